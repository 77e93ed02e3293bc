package protocol

import "fmt"

// Landscape enumerates the four named map landscapes; any other wire
// value decodes to Unknown.
type Landscape uint8

const (
	LandscapeTemperate Landscape = 0
	LandscapeArctic    Landscape = 1
	LandscapeTropical  Landscape = 2
	LandscapeToyland   Landscape = 3
	LandscapeUnknown   Landscape = 255
)

func (l Landscape) String() string {
	switch l {
	case LandscapeTemperate:
		return "Temperate"
	case LandscapeArctic:
		return "Arctic"
	case LandscapeTropical:
		return "Tropical"
	case LandscapeToyland:
		return "Toyland"
	default:
		return "Unknown"
	}
}

func decodeLandscape(v uint8) Landscape {
	if v <= 3 {
		return Landscape(v)
	}
	return LandscapeUnknown
}

// NewGRFEntry is a single record in the NewGRF lookup table, populated
// opportunistically from GC_NEWGRF_LOOKUP packets.
type NewGRFEntry struct {
	GRFID uint32
	MD5   [16]byte
	Name  string
}

// NewGRFTable is a process-local map from lookup index to NewGRFEntry.
// It is shared across the listing sessions of a single refresh and is
// discarded between refreshes. Indices are unique; repeated indices
// overwrite. Not safe for concurrent use without external locking.
type NewGRFTable struct {
	entries map[uint32]NewGRFEntry
}

// NewNewGRFTable creates an empty lookup table.
func NewNewGRFTable() *NewGRFTable {
	return &NewGRFTable{entries: make(map[uint32]NewGRFEntry)}
}

// Put inserts or overwrites the entry at index.
func (t *NewGRFTable) Put(index uint32, e NewGRFEntry) {
	t.entries[index] = e
}

// Get returns the entry at index, if present.
func (t *NewGRFTable) Get(index uint32) (NewGRFEntry, bool) {
	e, ok := t.entries[index]
	return e, ok
}

// DecodeNewGRFLookup parses a GC_NEWGRF_LOOKUP payload: a 4-byte cookie,
// a u16le count, then count records of {u32 index, u32 grfId, 16 bytes
// md5, zstring name}.
func DecodeNewGRFLookup(payload []byte, table *NewGRFTable) error {
	r := NewFieldReader(payload)
	if _, err := r.Bytes(4); err != nil {
		return fmt.Errorf("newgrf lookup cookie: %w", err)
	}
	count, err := r.U16LE()
	if err != nil {
		return fmt.Errorf("newgrf lookup count: %w", err)
	}
	for i := uint16(0); i < count; i++ {
		index, err := r.U32LE()
		if err != nil {
			return fmt.Errorf("newgrf lookup index: %w", err)
		}
		grfID, err := r.U32LE()
		if err != nil {
			return fmt.Errorf("newgrf lookup grfid: %w", err)
		}
		md5b, err := r.Bytes(16)
		if err != nil {
			return fmt.Errorf("newgrf lookup md5: %w", err)
		}
		name, err := r.ZString()
		if err != nil {
			return fmt.Errorf("newgrf lookup name: %w", err)
		}
		var md5 [16]byte
		copy(md5[:], md5b)
		table.Put(index, NewGRFEntry{GRFID: grfID, MD5: md5, Name: name})
	}
	return nil
}

// ServerRecord is one decoded entry from a GC_LISTING packet.
type ServerRecord struct {
	ConnectionString string
	InfoVersion      uint8

	TicksPlaying      uint64 // v>=7
	NewGRFs           []string
	GamescriptName    string // v>=5
	GamescriptVersion int32  // v>=5
	CalendarDate      int32  // v>=3
	CalendarStart     int32  // v>=3
	CompaniesMax      uint8  // v>=2
	CompaniesOn       uint8  // v>=2
	SpectatorsMax     uint8  // v>=2

	Name    string
	Version string

	Password    bool
	ClientsMax  uint8
	ClientsOn   uint8
	SpectatorsOn uint8

	MapWidth  uint16
	MapHeight uint16
	Landscape Landscape
	Dedicated bool

	newgrfType uint8 // carries the gate-6 field through to the gate-4 NewGRF block
}

// DecodeListing parses a GC_LISTING payload into the server records it
// contains. It begins with u16le serverCount; each record is decoded by
// decodeServerRecord. A malformed record terminates decoding of the
// current packet while keeping already-decoded records.
func DecodeListing(payload []byte, table *NewGRFTable) ([]ServerRecord, error) {
	r := NewFieldReader(payload)
	count, err := r.U16LE()
	if err != nil {
		return nil, fmt.Errorf("listing count: %w", err)
	}
	records := make([]ServerRecord, 0, count)
	for i := uint16(0); i < count; i++ {
		rec, err := decodeServerRecord(r, table)
		if err != nil {
			// Malformed record terminates decoding of this packet;
			// already-decoded records are kept.
			break
		}
		records = append(records, rec)
	}
	return records, nil
}

// decodeServerRecord reads one server record. Newer info-version fields
// are read first, each gated by a minimum infoVersion threshold, so a
// lower-versioned record omits the leading blocks; a few legacy fields
// (language, legacy dates, map name) are read only for low versions.
func decodeServerRecord(r *FieldReader, table *NewGRFTable) (ServerRecord, error) {
	var rec ServerRecord

	connStr, err := r.ZString()
	if err != nil {
		return rec, err
	}
	rec.ConnectionString = connStr

	infoVersion, err := r.U8()
	if err != nil {
		return rec, err
	}
	rec.InfoVersion = infoVersion

	if infoVersion >= 7 {
		v, err := r.U64LE()
		if err != nil {
			return rec, err
		}
		rec.TicksPlaying = v
	}

	if infoVersion >= 6 {
		// Governs the per-entry layout of the v>=4 NewGRF block below.
		newgrfType, err := r.U8()
		if err != nil {
			return rec, err
		}
		rec.newgrfType = newgrfType
	}

	if infoVersion >= 5 {
		gsVersion, err := r.I32LE()
		if err != nil {
			return rec, err
		}
		gsName, err := r.ZString()
		if err != nil {
			return rec, err
		}
		rec.GamescriptVersion = gsVersion
		rec.GamescriptName = gsName
	}

	if infoVersion >= 4 {
		grfCount, err := r.U8()
		if err != nil {
			return rec, err
		}
		names, err := decodeNewGRFEntries(r, grfCount, rec.newgrfType, table)
		if err != nil {
			return rec, err
		}
		rec.NewGRFs = names
	}

	if infoVersion >= 3 {
		calDate, err := r.I32LE()
		if err != nil {
			return rec, err
		}
		calStart, err := r.I32LE()
		if err != nil {
			return rec, err
		}
		rec.CalendarDate = calDate
		rec.CalendarStart = calStart
	}

	if infoVersion >= 2 {
		cMax, err := r.U8()
		if err != nil {
			return rec, err
		}
		cOn, err := r.U8()
		if err != nil {
			return rec, err
		}
		sMax, err := r.U8()
		if err != nil {
			return rec, err
		}
		rec.CompaniesMax = cMax
		rec.CompaniesOn = cOn
		rec.SpectatorsMax = sMax
	}

	name, err := r.ZString()
	if err != nil {
		return rec, err
	}
	version, err := r.ZString()
	if err != nil {
		return rec, err
	}
	rec.Name = name
	rec.Version = version

	if infoVersion <= 5 {
		if _, err := r.U8(); err != nil { // language, ignored
			return rec, err
		}
	}

	password, err := r.U8()
	if err != nil {
		return rec, err
	}
	clientsMax, err := r.U8()
	if err != nil {
		return rec, err
	}
	clientsOn, err := r.U8()
	if err != nil {
		return rec, err
	}
	spectatorsOn, err := r.U8()
	if err != nil {
		return rec, err
	}
	rec.Password = password != 0
	rec.ClientsMax = clientsMax
	rec.ClientsOn = clientsOn
	rec.SpectatorsOn = spectatorsOn

	if infoVersion <= 2 {
		if _, err := r.Bytes(4); err != nil { // legacy dates, ignored
			return rec, err
		}
	}

	if infoVersion <= 5 {
		if _, err := r.ZString(); err != nil { // mapName, ignored
			return rec, err
		}
	}

	mapWidth, err := r.U16LE()
	if err != nil {
		return rec, err
	}
	mapHeight, err := r.U16LE()
	if err != nil {
		return rec, err
	}
	landscape, err := r.U8()
	if err != nil {
		return rec, err
	}
	dedicated, err := r.U8()
	if err != nil {
		return rec, err
	}
	rec.MapWidth = mapWidth
	rec.MapHeight = mapHeight
	rec.Landscape = decodeLandscape(landscape)
	rec.Dedicated = dedicated != 0

	return rec, nil
}

// decodeNewGRFEntries reads grfCount NewGRF entries whose per-entry
// layout depends on newgrfType: 0 -> {grfId, md5}; 1 -> {grfId, md5,
// name}; 2 -> {lookupIndex} resolved against table, missing entries
// silently dropped.
func decodeNewGRFEntries(r *FieldReader, grfCount uint8, newgrfType uint8, table *NewGRFTable) ([]string, error) {
	names := make([]string, 0, grfCount)
	for i := uint8(0); i < grfCount; i++ {
		switch newgrfType {
		case 0:
			if _, err := r.U32LE(); err != nil {
				return nil, err
			}
			if _, err := r.Bytes(16); err != nil {
				return nil, err
			}
		case 1:
			if _, err := r.U32LE(); err != nil {
				return nil, err
			}
			if _, err := r.Bytes(16); err != nil {
				return nil, err
			}
			name, err := r.ZString()
			if err != nil {
				return nil, err
			}
			names = append(names, name)
		case 2:
			idx, err := r.U32LE()
			if err != nil {
				return nil, err
			}
			if table != nil {
				if e, ok := table.Get(idx); ok {
					names = append(names, e.Name)
				}
			}
		default:
			return nil, fmt.Errorf("%w: unknown newgrf type %d", ErrDecode, newgrfType)
		}
	}
	return names, nil
}
