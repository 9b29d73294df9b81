// Package transport contains FrameSource implementations: the RPMsg
// character device bridging the companion real-time core, and a host
// simulator that synthesises charge curves.
package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/domain"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/ports"
)

// DefaultDevice is the RPMsg endpoint exposed by the remoteproc framework.
const DefaultDevice = "/dev/ttyRPMSG0"

// wireRecord is the fixed-shape telemetry record streamed by the real-time
// core, little-endian, one per channel per acquisition tick.
type wireRecord struct {
	Channel     uint32
	Voltage     float32
	Current     float32
	Temperature float32
	Timestamp   float32
}

// RPMsg reads fixed-shape binary records from a character device. Each
// ReadFrames call consumes one acquisition tick: domain.MaxChannels
// records, demultiplexed by their channel field.
type RPMsg struct {
	path string
	f    *os.File
	r    io.Reader
}

func OpenRPMsg(path string) (*RPMsg, error) {
	if path == "" {
		path = DefaultDevice
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rpmsg device: %w", err)
	}
	return &RPMsg{path: path, f: f, r: bufio.NewReader(f)}, nil
}

// ReadFrames blocks until a full tick has been read. Records with an
// out-of-range channel field are skipped; the remainder of the tick is
// still consumed so the stream stays aligned.
func (t *RPMsg) ReadFrames(dst []domain.Frame) error {
	for i := range dst {
		dst[i] = nil
	}
	for i := 0; i < domain.MaxChannels; i++ {
		var rec wireRecord
		if err := binary.Read(t.r, binary.LittleEndian, &rec); err != nil {
			return fmt.Errorf("read rpmsg record: %w", err)
		}
		if rec.Channel >= domain.MaxChannels {
			continue
		}
		dst[rec.Channel] = domain.Frame{
			domain.KeyVoltage:     float64(rec.Voltage),
			domain.KeyCurrent:     float64(rec.Current),
			domain.KeyTemperature: float64(rec.Temperature),
			domain.KeyTimestamp:   float64(rec.Timestamp),
		}
	}
	return nil
}

func (t *RPMsg) Close() error {
	if t.f == nil {
		return nil
	}
	return t.f.Close()
}

var _ ports.FrameSource = (*RPMsg)(nil)
