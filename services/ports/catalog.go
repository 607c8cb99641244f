// Package ports binds declared measurement channels to the sensor catalog
// and turns raw samples into classified readings.
package ports

import (
	"fmt"

	"sensorlink-go/types"
)

// Catalog is the ordered list of sensor types known to a board.
type Catalog []types.SensorType

func (c Catalog) Lookup(id int) (types.SensorType, bool) {
	// Ids are assigned in declaration order, so try the index first.
	if id >= 0 && id < len(c) && c[id].ID == id {
		return c[id], true
	}
	for _, s := range c {
		if s.ID == id {
			return s, true
		}
	}
	return types.SensorType{}, false
}

// Decl is a port as written in the board file.
type Decl struct {
	Name     string
	SensorID int
}

// Dropped records a declaration that could not be bound.
type Dropped struct {
	Decl    Decl
	Channel int
	Reason  string
}

func (d Dropped) String() string {
	return fmt.Sprintf("port %q (channel %d, sensor %d): %s", d.Decl.Name, d.Channel, d.Decl.SensorID, d.Reason)
}

// Bind resolves each declaration against the catalog. The channel of a
// port is its declaration index, so a dropped port leaves a gap rather
// than shifting later ports onto the wrong input. Ports bound to a sensor
// with a zero multiplier are kept but inactive.
func Bind(cat Catalog, decls []Decl) ([]types.Port, []Dropped) {
	out := make([]types.Port, 0, len(decls))
	var dropped []Dropped
	for ch, d := range decls {
		s, ok := cat.Lookup(d.SensorID)
		if !ok {
			dropped = append(dropped, Dropped{Decl: d, Channel: ch, Reason: "unknown sensor id"})
			continue
		}
		out = append(out, types.Port{
			Name:         d.Name,
			SensorTypeID: s.ID,
			Channel:      ch,
			LastValue:    types.Faulted(),
			Multiplier:   s.Multiplier,
			RangeLow:     s.RangeLow,
			RangeHigh:    s.RangeHigh,
			Description:  s.Description(),
		})
	}
	return out, dropped
}
