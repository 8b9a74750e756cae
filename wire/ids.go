package wire

// SubscribeID is a monotonic per-direction 62-bit integer, allocated
// locally on outbound subscribe/fetch.
type SubscribeID uint64

// TrackAlias is a 62-bit publisher-chosen short name for a subscribed
// track, used on every data object belonging to that track.
type TrackAlias uint64

// FullTrackName identifies a track by an ordered namespace tuple plus a
// name within that namespace.
type FullTrackName struct {
	Namespace []string
	Name      string
}

// ObjectStatus describes what kind of object a data-stream entry carries.
type ObjectStatus uint64

const (
	StatusNormal             ObjectStatus = 0x0
	StatusObjectNotExist     ObjectStatus = 0x1
	StatusGroupNotExist      ObjectStatus = 0x3
	StatusEndOfGroup         ObjectStatus = 0x4
	StatusEndOfTrackAndGroup ObjectStatus = 0x5
	StatusEndOfSubgroup      ObjectStatus = 0x6
)

// ObjectHeader describes a single object on a subgroup or fetch stream.
// TrackIdentifier holds a SubscribeID for fetch streams and a TrackAlias
// for subgroup streams; callers know which from the stream kind they're
// reading.
type ObjectHeader struct {
	TrackIdentifier uint64
	Group           uint64
	Subgroup        uint64
	ID              uint64
	Priority        byte
	Status          ObjectStatus
	Length          *uint64
}
