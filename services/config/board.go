package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"sensorlink-go/errcode"
	"sensorlink-go/services/ports"
	"sensorlink-go/types"
)

// Board file line kinds. Anything else is ignored.
const (
	keySensor = "SensorID:"
	keyBoard  = "Board:"
	keyConn   = "ConnInfo:"
	keyPort   = "Port:"
)

// ParseBoard reads a board file:
//
//	SensorID:<label>,<unit>,<multiplier>,<range-low>,<range-high>
//	Board:<ssid>,<password>,<table-name>
//	ConnInfo:<ip>,<port>,<host>,<dir>
//	Port:<name>,<sensor-id>
//
// Sensor ids are assigned in file order from 0, so sensors are collected
// before any port is bound. Ports naming an unknown sensor are returned in
// dropped; a malformed line or an unusable port name is a config error.
func ParseBoard(r io.Reader) (*types.BoardSpecs, []ports.Dropped, error) {
	const op = "config.board"
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, nil, errcode.Wrap(errcode.IO, op, err)
	}

	specs := &types.BoardSpecs{}
	var cat ports.Catalog
	for n, l := range lines {
		if !strings.HasPrefix(l, keySensor) {
			continue
		}
		s, err := parseSensor(len(cat), l[len(keySensor):])
		if err != nil {
			return nil, nil, lineErr(op, n, err)
		}
		cat = append(cat, s)
	}

	var decls []ports.Decl
	seen := map[string]bool{}
	for n, l := range lines {
		switch {
		case strings.HasPrefix(l, keyBoard):
			f := strings.SplitN(l[len(keyBoard):], ",", 3)
			if len(f) != 3 {
				return nil, nil, lineErr(op, n, fmt.Errorf("want ssid,password,table"))
			}
			specs.Network = types.Network{SSID: f[0], Password: f[1]}
			specs.TableName = f[2]
		case strings.HasPrefix(l, keyConn):
			f := strings.SplitN(l[len(keyConn):], ",", 4)
			if len(f) != 4 {
				return nil, nil, lineErr(op, n, fmt.Errorf("want ip,port,host,dir"))
			}
			// A non-numeric port leaves the board offline rather than failing.
			port, _ := strconv.Atoi(strings.TrimSpace(f[1]))
			specs.Remote = types.Remote{IP: f[0], Port: port, Host: f[2], Dir: f[3]}
		case strings.HasPrefix(l, keyPort):
			f := strings.SplitN(l[len(keyPort):], ",", 2)
			if len(f) != 2 {
				return nil, nil, lineErr(op, n, fmt.Errorf("want name,sensor-id"))
			}
			name := f[0]
			if err := checkPortName(name); err != nil {
				return nil, nil, lineErr(op, n, err)
			}
			if seen[name] {
				return nil, nil, lineErr(op, n, fmt.Errorf("duplicate port %q", name))
			}
			seen[name] = true
			id, err := strconv.Atoi(strings.TrimSpace(f[1]))
			if err != nil {
				id = -1
			}
			decls = append(decls, ports.Decl{Name: name, SensorID: id})
		}
	}

	specs.Sensors = cat
	var dropped []ports.Dropped
	specs.Ports, dropped = ports.Bind(cat, decls)
	return specs, dropped, nil
}

func parseSensor(id int, s string) (types.SensorType, error) {
	f := strings.Split(s, ",")
	if len(f) != 5 {
		return types.SensorType{}, fmt.Errorf("want label,unit,multiplier,low,high")
	}
	var nums [3]float32
	for i, raw := range f[2:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 32)
		if err != nil {
			return types.SensorType{}, fmt.Errorf("field %d: %w", i+3, err)
		}
		nums[i] = float32(v)
	}
	if nums[1] > nums[2] {
		return types.SensorType{}, fmt.Errorf("range low %v above high %v", nums[1], nums[2])
	}
	return types.SensorType{
		ID:         id,
		Label:      f[0],
		Unit:       f[1],
		Multiplier: nums[0],
		RangeLow:   nums[1],
		RangeHigh:  nums[2],
	}, nil
}

// checkPortName rejects names the backlog file cannot carry.
func checkPortName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("empty port name")
	case strings.ContainsAny(name, ",\n\r"):
		return fmt.Errorf("port name %q contains a separator", name)
	case name[0] == '#':
		return fmt.Errorf("port name %q starts with '#'", name)
	}
	return nil
}

func lineErr(op string, n int, err error) error {
	return &errcode.E{C: errcode.Config, Op: op, Msg: fmt.Sprintf("line %d", n+1), Err: err}
}
