package pool

// Options bundles the pool's construction-time tunables, the four
// values spec'd for pool.new: buffer sizes for both channels, the seen
// cache's capacity, and whether a dropped pool should attempt a
// best-effort shutdown.
type Options struct {
	NotificationChannelSize int
	TaskChannelSize         int
	TaskMaxSeenEvents       int
	ShutdownOnDrop          bool
}

// DefaultOptions mirrors the sizes the teacher's own SimplePool picks
// when unconfigured.
func DefaultOptions() Options {
	return Options{
		NotificationChannelSize: 512,
		TaskChannelSize:         256,
		TaskMaxSeenEvents:       2048,
		ShutdownOnDrop:          true,
	}
}

// PoolOption configures a Pool at construction time, following the
// same functional-option shape the teacher's SimplePool uses for its
// own options (IsPoolOption/Apply).
type PoolOption interface {
	IsPoolOption() bool
	Apply(*Options)
}

type notificationChannelSizeOption struct{ size int }

func (notificationChannelSizeOption) IsPoolOption() bool { return true }
func (o notificationChannelSizeOption) Apply(opts *Options) {
	opts.NotificationChannelSize = o.size
}

// WithNotificationChannelSize sets the Notification Bus's per-subscriber buffer size.
func WithNotificationChannelSize(size int) PoolOption {
	return notificationChannelSizeOption{size: size}
}

type taskChannelSizeOption struct{ size int }

func (taskChannelSizeOption) IsPoolOption() bool { return true }
func (o taskChannelSizeOption) Apply(opts *Options) {
	opts.TaskChannelSize = o.size
}

// WithTaskChannelSize sets the bounded inbound aggregator channel's capacity.
func WithTaskChannelSize(size int) PoolOption {
	return taskChannelSizeOption{size: size}
}

type maxSeenEventsOption struct{ max int }

func (maxSeenEventsOption) IsPoolOption() bool { return true }
func (o maxSeenEventsOption) Apply(opts *Options) {
	opts.TaskMaxSeenEvents = o.max
}

// WithMaxSeenEvents sets the seen-event cache's capacity.
func WithMaxSeenEvents(max int) PoolOption {
	return maxSeenEventsOption{max: max}
}

type shutdownOnDropOption struct{ enabled bool }

func (shutdownOnDropOption) IsPoolOption() bool { return true }
func (o shutdownOnDropOption) Apply(opts *Options) {
	opts.ShutdownOnDrop = o.enabled
}

// WithShutdownOnDrop toggles whether a garbage-collected, never-explicitly-shutdown
// pool attempts a best-effort shutdown from a finalizer.
func WithShutdownOnDrop(enabled bool) PoolOption {
	return shutdownOnDropOption{enabled: enabled}
}
