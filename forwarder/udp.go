package forwarder

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"
	"unsafe"

	"github.com/jd3nn1s/telemeter"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var maxPacketSize = int(unsafe.Sizeof(Header{}) + unsafe.Sizeof(Packet{}))

type UDPConfig struct {
	Server string `toml:"Server" validate:"required"`
	Port   int    `toml:"Port" validate:"gt=0,lte=65535"`
	// RateMS limits how often packets are sent.
	RateMS int `toml:"RateMS" validate:"gte=0"`
}

type UDPForwarder struct {
	Config *UDPConfig

	conn    net.Conn
	fwdChan chan Packet
}

func NewUDPForwarder(config *UDPConfig) (*UDPForwarder, error) {
	udp := &UDPForwarder{
		Config:  config,
		fwdChan: make(chan Packet, 1),
	}
	if err := udp.connect(); err != nil {
		return nil, err
	}
	return udp, nil
}

func (udp *UDPForwarder) Close() error {
	return udp.conn.Close()
}

func (udp *UDPForwarder) Forward(newSnapshot *telemeter.Snapshot, prevSnapshot *telemeter.Snapshot) error {
	select {
	case udp.fwdChan <- NewPacket(newSnapshot):
	default:
		// if channel is full, skip
	}
	return nil
}

func (udp *UDPForwarder) Start(ctx context.Context) error {
	rate := time.Duration(udp.Config.RateMS) * time.Millisecond
	if rate <= 0 {
		rate = 100 * time.Millisecond
	}
	limiter := time.NewTicker(rate)
	defer limiter.Stop()
	for {
		select {
		case <-limiter.C:
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case p := <-udp.fwdChan:
			if err := udp.forward(p); err != nil {
				log.Error("unable to forward telemetry to server ", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (udp *UDPForwarder) forward(p Packet) error {
	buf := bytes.NewBuffer(make([]byte, 0, maxPacketSize))
	hdr := Header{
		Type: TypeTelemetry,
	}
	if err := binary.Write(buf, binary.LittleEndian, &hdr); err != nil {
		return errors.Wrap(err, "unable to write udp packet header")
	}
	if err := binary.Write(buf, binary.LittleEndian, &p); err != nil {
		return errors.Wrap(err, "unable to write telemetry udp packet")
	}
	_, err := udp.conn.Write(buf.Bytes())
	return errors.Wrap(err, "unable to send udp packet")
}

func (udp *UDPForwarder) connect() error {
	writeBufSize := maxPacketSize * 2

	conn, err := net.Dial("udp", fmt.Sprintf("%s:%d",
		udp.Config.Server,
		udp.Config.Port))
	if err != nil {
		return errors.Wrap(err, "unable to dial udp forwarder")
	}
	udpConn := conn.(*net.UDPConn)
	if err = udpConn.SetWriteBuffer(writeBufSize); err != nil {
		return errors.Wrapf(err, "unable to set OS write buffer to %v", writeBufSize)
	}

	udp.conn = conn
	return nil
}
