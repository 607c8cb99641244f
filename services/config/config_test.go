package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensorlink-go/bus"
	"sensorlink-go/errcode"
	"sensorlink-go/types"
)

const sampleBoard = `# comment lines and blanks are ignored

SensorID:Voltage,Volts,3.3,0,3.3
SensorID:Level,Percent,100,5,95
SensorID:Spare,None,0,0,1
Board:myssid,secret,field_a
ConnInfo:10.0.0.5,8080,collector.example,/ingest
Port:A,0
Port:B,1
Port:X,7
Port:C,2
`

func TestParseBoard_Sample(t *testing.T) {
	specs, dropped, err := ParseBoard(strings.NewReader(sampleBoard))
	require.NoError(t, err)

	assert.Equal(t, "field_a", specs.TableName)
	assert.Equal(t, types.Network{SSID: "myssid", Password: "secret"}, specs.Network)
	assert.Equal(t, types.Remote{IP: "10.0.0.5", Port: 8080, Host: "collector.example", Dir: "/ingest"}, specs.Remote)
	assert.Empty(t, specs.OfflineReason())

	require.Len(t, specs.Sensors, 3)
	assert.Equal(t, 2, specs.Sensors[2].ID)
	assert.Equal(t, "Level in Percent", specs.Sensors[1].Description())

	require.Len(t, dropped, 1)
	assert.Equal(t, "X", dropped[0].Decl.Name)
	assert.Equal(t, 2, dropped[0].Channel)

	require.Len(t, specs.Ports, 3)
	assert.Equal(t, "A", specs.Ports[0].Name)
	assert.Equal(t, 0, specs.Ports[0].Channel)
	assert.Equal(t, "C", specs.Ports[2].Name)
	assert.Equal(t, 3, specs.Ports[2].Channel, "dropped port keeps its channel")
	assert.False(t, specs.Ports[2].Active(), "zero multiplier")
	assert.Equal(t, types.Faulted(), specs.Ports[0].LastValue)
}

func TestParseBoard_PortBeforeSensor(t *testing.T) {
	specs, dropped, err := ParseBoard(strings.NewReader("Port:A,0\nSensorID:V,Volts,1,0,5\n"))
	require.NoError(t, err)
	assert.Empty(t, dropped)
	require.Len(t, specs.Ports, 1)
	assert.Equal(t, "V in Volts", specs.Ports[0].Description)
}

func TestParseBoard_Errors(t *testing.T) {
	cases := map[string]string{
		"short sensor":    "SensorID:V,Volts,1,0\n",
		"bad number":      "SensorID:V,Volts,one,0,5\n",
		"inverted range":  "SensorID:V,Volts,1,5,0\n",
		"short board":     "Board:ssid\n",
		"short conn":      "ConnInfo:1.2.3.4,80\n",
		"empty name":      "Port:,0\n",
		"header name":     "Port:#A,0\n",
		"duplicate port":  "SensorID:V,Volts,1,0,5\nPort:A,0\nPort:A,0\n",
		"missing channel": "Port:A\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := ParseBoard(strings.NewReader(in))
			require.Error(t, err)
			assert.Equal(t, errcode.Config, errcode.Of(err))
		})
	}
}

func TestParseBoard_NonNumericRemotePortIsOffline(t *testing.T) {
	specs, _, err := ParseBoard(strings.NewReader("Board:s,p,t\nConnInfo:1.2.3.4,http,h,/d\n"))
	require.NoError(t, err)
	assert.Equal(t, "no remote port", specs.OfflineReason())
}

func TestParseBoard_Embedded(t *testing.T) {
	for device, raw := range embeddedBoards {
		t.Run(device, func(t *testing.T) {
			specs, dropped, err := ParseBoard(strings.NewReader(string(raw)))
			require.NoError(t, err)
			assert.Empty(t, dropped)
			assert.NotEmpty(t, specs.Ports)
			assert.Empty(t, specs.OfflineReason())
		})
	}
}

func TestService_PublishEmbedded_Retained(t *testing.T) {
	oldLookup := EmbeddedBoardLookup
	EmbeddedBoardLookup = func(device string) ([]byte, bool) {
		if device != "pico" {
			return nil, false
		}
		return []byte(sampleBoard), true
	}
	t.Cleanup(func() { EmbeddedBoardLookup = oldLookup })

	b := bus.NewBus(16)
	conn := b.NewConnection("test-config")
	svc := NewService("", nil)

	ctx := context.WithValue(context.Background(), CtxDeviceKey, "pico")
	_, err := svc.Publish(ctx, conn)
	require.NoError(t, err)

	// Retained messages arrive on subscribe.
	sub := conn.Subscribe(bus.T(configPrefix, "#"))
	got := map[string]any{}
	deadline := time.After(time.Second)
	for len(got) < 2 {
		select {
		case m := <-sub.Channel():
			key := m.Topic[1].(string)
			if key == "dropped" {
				key += "/" + m.Topic[2].(string)
			}
			got[key] = m.Payload
		case <-deadline:
			t.Fatalf("got %d retained messages, want 2: %v", len(got), got)
		}
	}
	specs, ok := got["board"].(*types.BoardSpecs)
	require.True(t, ok, "board payload type %T", got["board"])
	assert.Equal(t, "field_a", specs.TableName)
	assert.Equal(t, "unknown sensor id", got["dropped/X"])
}

func TestService_MissingDevice(t *testing.T) {
	svc := NewService("", nil)
	_, err := svc.Board(context.Background())
	require.Error(t, err)
	assert.Equal(t, errcode.Config, errcode.Of(err))
}

func TestService_NoBoardFound(t *testing.T) {
	oldLookup := EmbeddedBoardLookup
	EmbeddedBoardLookup = func(string) ([]byte, bool) { return nil, false }
	t.Cleanup(func() { EmbeddedBoardLookup = oldLookup })

	ctx := context.WithValue(context.Background(), CtxDeviceKey, "unknown-device")
	_, err := NewService("", nil).Board(ctx)
	require.Error(t, err)
}

func TestService_FileOverridesEmbedded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.txt")
	require.NoError(t, os.WriteFile(path, []byte(sampleBoard), 0o644))

	ctx := context.WithValue(context.Background(), CtxDeviceKey, "host")
	svc := NewService(path, nil)
	specs, err := svc.Board(ctx)
	require.NoError(t, err)
	assert.Equal(t, "field_a", specs.TableName)
	assert.Len(t, svc.Dropped(), 1)
}
