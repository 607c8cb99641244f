package types

// ---- Sensor catalog & ports ----

// SensorType is one catalog entry. Multiplier 0 means "no sensor".
type SensorType struct {
	ID         int     `json:"id"`
	Label      string  `json:"label"` // quantity measured, e.g. "Current"
	Unit       string  `json:"unit"`
	Multiplier float32 `json:"multiplier"`
	RangeLow   float32 `json:"range_low"`
	RangeHigh  float32 `json:"range_high"`
}

// Description is the text carried with every reading of a bound port.
func (s SensorType) Description() string { return s.Label + " in " + s.Unit }

// Port is a measurement channel bound to a SensorType at load time.
type Port struct {
	Name         string  `json:"name"`
	SensorTypeID int     `json:"sensor_type_id"`
	Channel      int     `json:"channel"` // physical input index
	LastValue    Reading `json:"last_value"`
	Multiplier   float32 `json:"multiplier"`
	RangeLow     float32 `json:"range_low"`
	RangeHigh    float32 `json:"range_high"`
	Description  string  `json:"description"`
}

func (p *Port) Active() bool { return p.Multiplier != 0 }

// ---- Board ----

// Remote describes the ingest endpoint (ConnInfo line).
type Remote struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
	Host string `json:"host"`
	Dir  string `json:"dir"`
}

// Network holds the Wi-Fi credentials (Board line).
type Network struct {
	SSID     string `json:"ssid"`
	Password string `json:"-"`
}

// BoardSpecs is the validated board configuration. It is owned by the
// polling controller once loaded; ports are mutated in place each cycle.
type BoardSpecs struct {
	ID        string       `json:"id,omitempty"`
	TableName string       `json:"table_name"` // doubles as the board id on the wire
	Network   Network      `json:"network"`
	Remote    Remote       `json:"remote"`
	Sensors   []SensorType `json:"sensors"`
	Ports     []Port       `json:"ports"`
}

// OfflineReason returns a non-empty reason when the board cannot talk to
// its endpoint and every reading must go to the backlog.
func (b *BoardSpecs) OfflineReason() string {
	switch {
	case blank(b.TableName):
		return "no database table name"
	case blank(b.Remote.Dir):
		return "no remote directory"
	case blank(b.Remote.IP):
		return "no remote ip address"
	case b.Remote.Port == 0:
		return "no remote port"
	case blank(b.Remote.Host):
		return "no remote hostname"
	}
	return ""
}

func blank(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] != ' ' && s[i] != '\t' {
			return false
		}
	}
	return true
}

// ---- Backlog records ----

// Entry is one historical reading for one port.
type Entry struct {
	Port        string  `json:"port"`
	Reading     Reading `json:"reading"`
	Description string  `json:"description"`
}

// Batch is the set of readings taken in one polling cycle.
type Batch struct {
	ID      string  `json:"id"`
	TakenMs int64   `json:"taken_ms"`
	Entries []Entry `json:"entries"`
}

func (b Batch) Len() int { return len(b.Entries) }
