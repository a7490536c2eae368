// Package pcapreader loads capture files into decoded packets.
package pcapreader

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"

	"github.com/samaelod/reflow/packet"
	"github.com/samaelod/reflow/types"
)

type Format int

const (
	FormatUnknown Format = iota
	FormatPcap
	FormatPcapNG
)

func (f Format) String() string {
	switch f {
	case FormatPcap:
		return "pcap"
	case FormatPcapNG:
		return "pcapng"
	}
	return "unknown"
}

type packetSource interface {
	LinkType() layers.LinkType
	ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error)
	Close() error
}

// DetectFormat sniffs the file magic. Files too short to carry a magic
// number are FormatUnknown.
func DetectFormat(path string) (Format, error) {
	file, err := os.Open(path)
	if err != nil {
		return FormatUnknown, err
	}
	defer file.Close()

	header := make([]byte, 4)
	if _, err := io.ReadFull(file, header); err != nil {
		return FormatUnknown, nil
	}

	magic := uint32(header[0]) | uint32(header[1])<<8 | uint32(header[2])<<16 | uint32(header[3])<<24
	switch magic {
	case 0x0A0D0D0A:
		return FormatPcapNG, nil
	case 0xA1B2C3D4, 0xD4C3B2A1, 0xA1B23C4D, 0x4D3CB2A1:
		return FormatPcap, nil
	}
	return FormatUnknown, nil
}

func openPacketSource(path string) (packetSource, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatPcapNG:
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		reader, err := pcapgo.NewNgReader(file, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			file.Close()
			return nil, err
		}
		return &ngSource{reader: reader, file: file}, nil

	case FormatPcap:
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		reader, err := pcapgo.NewReader(file)
		if err != nil {
			file.Close()
			return nil, err
		}
		return &pcapgoSource{reader: reader, file: file}, nil
	}

	// libpcap knows more container variants than pcapgo
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, err
	}
	return &pcapSource{handle: handle}, nil
}

type pcapSource struct {
	handle *pcap.Handle
}

func (p *pcapSource) LinkType() layers.LinkType { return p.handle.LinkType() }

func (p *pcapSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return p.handle.ReadPacketData()
}

func (p *pcapSource) Close() error {
	p.handle.Close()
	return nil
}

type pcapgoSource struct {
	reader *pcapgo.Reader
	file   *os.File
}

func (p *pcapgoSource) LinkType() layers.LinkType { return p.reader.LinkType() }

func (p *pcapgoSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return p.reader.ReadPacketData()
}

func (p *pcapgoSource) Close() error { return p.file.Close() }

type ngSource struct {
	reader *pcapgo.NgReader
	file   *os.File
}

func (p *ngSource) LinkType() layers.LinkType { return p.reader.LinkType() }

func (p *ngSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return p.reader.ReadPacketData()
}

func (p *ngSource) Close() error { return p.file.Close() }

// ReadPCAP decodes every packet of a pcap or pcapng file in capture order.
// Failing to open the file is a SetupError; a truncated trailing record
// ends the read without error.
func ReadPCAP(path string) ([]*packet.Packet, error) {
	source, err := openPacketSource(path)
	if err != nil {
		return nil, &types.SetupError{Op: "open capture", Path: path, Err: err}
	}
	defer source.Close()

	var pkts []*packet.Packet
	for {
		data, ci, err := source.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			log.Printf("Warning: %s: truncated record after %d packets", path, len(pkts))
			break
		}
		if err != nil {
			return pkts, &types.SetupError{Op: "read capture", Path: path, Err: fmt.Errorf("packet %d: %w", len(pkts), err)}
		}
		// readers may reuse their buffer
		data = append([]byte(nil), data...)
		pkts = append(pkts, packet.New(data, source.LinkType(), ci))
	}

	log.Printf("Loaded %d packets from %s", len(pkts), path)
	return pkts, nil
}
