package config

// Diff describes what changed between two loaded configs. Only the log level
// can be applied to a running server; everything else feeds decisions that
// have already been made (engines exist per channel, stores are connected), so
// those changes are reported for operator visibility and require a restart.
type Diff struct {
	// LogLevelChanged is the one hot-applicable change.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ClusteringChanged covers the primary engine knobs (caps, thresholds,
	// margin, enrolled-centroid policy). Mid-session threshold changes would
	// make replay non-deterministic, so they are restart-only.
	ClusteringChanged bool

	// UnknownChanged covers the secondary clusterer knobs.
	UnknownChanged bool

	// ChannelsAdded and ChannelsRemoved list channel-set edits by name.
	ChannelsAdded   []string
	ChannelsRemoved []string

	// RestartRequired is set for server address or registry backend changes.
	RestartRequired bool
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return !d.LogLevelChanged && !d.ClusteringChanged && !d.UnknownChanged &&
		len(d.ChannelsAdded) == 0 && len(d.ChannelsRemoved) == 0 && !d.RestartRequired
}

// Compare returns the differences between two configs.
func Compare(old, new *Config) Diff {
	var d Diff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Clustering != new.Clustering {
		d.ClusteringChanged = true
	}
	if old.Unknown != new.Unknown {
		d.UnknownChanged = true
	}
	if old.Server.ListenAddr != new.Server.ListenAddr || old.Registry != new.Registry {
		d.RestartRequired = true
	}

	oldSet := make(map[string]bool, len(old.Channels))
	for _, name := range old.Channels {
		oldSet[name] = true
	}
	newSet := make(map[string]bool, len(new.Channels))
	for _, name := range new.Channels {
		newSet[name] = true
		if !oldSet[name] {
			d.ChannelsAdded = append(d.ChannelsAdded, name)
		}
	}
	for _, name := range old.Channels {
		if !newSet[name] {
			d.ChannelsRemoved = append(d.ChannelsRemoved, name)
		}
	}

	return d
}
