package gpsservice

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"go.bug.st/serial"
)

func (s *Service) runSerialLoop(ctx context.Context, dev string, baud int) {
	if baud <= 0 {
		baud = 9600
	}
	connected := false
	devPath := strings.TrimSpace(dev)
	if devPath == "" {
		devPath = GuessSerialDevice()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !connected {
			logGPS("opening serial %s (%d baud)", devPath, baud)
		}
		connected = true
		if err := s.readSerial(ctx, devPath, baud); err != nil {
			connected = false
			logGPS("serial disconnected: %v", err)
			if guessed := GuessSerialDevice(); guessed != "" && guessed != devPath {
				logGPS("serial device changed -> %s", guessed)
				devPath = guessed
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
		}
	}
}

func (s *Service) readSerial(ctx context.Context, dev string, baud int) error {
	mode := &serial.Mode{BaudRate: baud}
	port, err := serial.Open(dev, mode)
	if err != nil {
		return err
	}
	defer port.Close()

	s.setActiveCloser("serial", func() { _ = port.Close() })
	defer s.clearActiveCloser()

	go func() {
		<-ctx.Done()
		_ = port.Close()
	}()

	scanner := bufio.NewScanner(port)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 256*1024)

	var lastHDOP float64
	var lastSats int
	var pending Position
	havePending := false

	emit := func() {
		if havePending {
			s.sample(pending)
			havePending = false
		}
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimRight(line, "\r")
		if line == "" || (!strings.HasPrefix(line, "$") && !strings.HasPrefix(line, "!")) {
			continue
		}

		sent, err := nmea.Parse(line)
		if err != nil {
			continue
		}

		switch v := sent.(type) {
		case nmea.GSA:
			lastHDOP = v.HDOP
			used := 0
			for _, sv := range v.SV {
				if strings.TrimSpace(sv) != "" {
					used++
				}
			}
			if used > 0 {
				lastSats = used
			}
		case nmea.RMC:
			if strings.EqualFold(v.Validity, "A") {
				pending = Position{
					Lat:        v.Latitude,
					Lon:        v.Longitude,
					Timestamp:  time.Now(),
					FixQuality: Fix3D,
					SpeedMS:    v.Speed * 0.514444,
					HeadingDeg: v.Course,
					HDOP:       lastHDOP,
					Satellites: lastSats,
				}
				havePending = true
				emit()
			}
		case nmea.GGA:
			if v.FixQuality != "0" && (v.Latitude != 0 || v.Longitude != 0) {
				pending = Position{
					Lat:        v.Latitude,
					Lon:        v.Longitude,
					Alt:        v.Altitude,
					Timestamp:  time.Now(),
					FixQuality: Fix3D,
					HDOP:       v.HDOP,
					Satellites: int(v.NumSatellites),
				}
				lastHDOP = v.HDOP
				lastSats = int(v.NumSatellites)
				havePending = true
				emit()
			}
		case nmea.GLL:
			if strings.EqualFold(v.Validity, "A") {
				pending = Position{
					Lat:        v.Latitude,
					Lon:        v.Longitude,
					Timestamp:  time.Now(),
					FixQuality: Fix2D,
					HDOP:       lastHDOP,
					Satellites: lastSats,
				}
				havePending = true
				emit()
			}
		case nmea.GNS:
			if v.Latitude != 0 || v.Longitude != 0 {
				pending = Position{
					Lat:        v.Latitude,
					Lon:        v.Longitude,
					Timestamp:  time.Now(),
					FixQuality: Fix3D,
					HDOP:       lastHDOP,
					Satellites: lastSats,
				}
				havePending = true
				emit()
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("serial reader stopped")
}
