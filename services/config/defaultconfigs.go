package config

// Embedded board files, keyed by device ID (the value placed in ctx under
// CtxDeviceKey). A board file on disk takes precedence.

// Pico wired to an ESP8266: channel 0 and 1 are ADC inputs, channel 2
// the battery divider.
const boardPico = `SensorID:Voltage,Volts,3.3,0,3.3
SensorID:Level,Percent,100,5,95
SensorID:Battery,Volts,6.6,3.3,4.2
Board:sensorlink,changeme,pico_field
ConnInfo:192.168.4.1,80,collector.local,/ingest
Port:A0,0
Port:A1,1
Port:BAT,2
`

// Host build with an AHT20 on I2C, or simulated values.
const boardHost = `SensorID:Temperature,Celsius,1,-10,50
SensorID:Humidity,Percent,1,0,100
Board:,,host_bench
ConnInfo:127.0.0.1,8080,localhost,/ingest
Port:T,0
Port:RH,1
`

var embeddedBoards = map[string][]byte{
	"pico": []byte(boardPico),
	"host": []byte(boardHost),
}
