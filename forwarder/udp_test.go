package forwarder

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/jd3nn1s/telemeter"
	"github.com/jd3nn1s/telemeter/position"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUDPForwarder(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()
	udpAddr := pc.LocalAddr().(*net.UDPAddr)

	recvData := struct {
		data []byte
		len  int
	}{}

	dataChan := make(chan struct{}, 1)
	go func() {
		buffer := make([]byte, 1024)
		assert.NoError(t, pc.SetReadDeadline(time.Now().Add(time.Second*3)))
		n, _, err := pc.ReadFrom(buffer)
		assert.NoError(t, err)
		recvData.data = buffer
		recvData.len = n
		dataChan <- struct{}{}
	}()

	udp, err := NewUDPForwarder(&UDPConfig{
		Server: "127.0.0.1",
		Port:   udpAddr.Port,
		RateMS: 10,
	})
	require.NoError(t, err)
	defer udp.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = udp.Start(ctx)
	}()

	newSnap := telemeter.Snapshot{
		Telemetry: telemeter.Telemetry{
			SpeedKph:     1,
			TripKm:       2,
			OdometerKm:   3,
			FuelL:        4,
			GPSAvailable: true,
			LastPosition: &position.Fix{Latitude: 6, Longitude: 7},
		},
		RangeKm: 5,
		Ready:   true,
	}
	prevSnap := telemeter.Snapshot{}
	assert.NoError(t, udp.Forward(&newSnap, &prevSnap))

	<-dataChan
	assert.Equal(t, 60, recvData.len)

	hdr := Header{}
	recvPacket := Packet{}
	rdr := bytes.NewReader(recvData.data)
	assert.NoError(t, binary.Read(rdr, binary.LittleEndian, &hdr))
	assert.NoError(t, binary.Read(rdr, binary.LittleEndian, &recvPacket))
	assert.Equal(t, uint8(TypeTelemetry), hdr.Type)
	assert.Equal(t, Packet{
		SpeedKph:     1,
		TripKm:       2,
		OdometerKm:   3,
		FuelL:        4,
		RangeKm:      5,
		Latitude:     6,
		Longitude:    7,
		GPSAvailable: 1,
		LowFuel:      0,
		Ready:        1,
	}, recvPacket)
}

func TestNewPacketWithoutPosition(t *testing.T) {
	p := NewPacket(&telemeter.Snapshot{Telemetry: telemeter.Telemetry{FuelL: 3}})
	assert.Equal(t, 3.0, p.FuelL)
	assert.Equal(t, 0.0, p.Latitude)
	assert.Equal(t, uint8(0), p.Ready)
}
