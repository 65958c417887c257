package msc

import (
	"encoding/binary"
	"io"

	"github.com/noxer/bytewriter"
)

// Sense keys and additional sense codes the adapter reports. Only the
// subset the command contracts in the component design name.
const (
	SenseKeyNoSense       uint8 = 0x00
	SenseKeyNotReady      uint8 = 0x02
	SenseKeyMediumError   uint8 = 0x03
	SenseKeyIllegalRequest uint8 = 0x05
	SenseKeyUnitAttention uint8 = 0x06

	ASCMediumNotPresent    = 0x3A
	ASCWriteFault          = 0x03
	ASCUnrecoveredReadErr  = 0x11
	ASCInvalidCommandOp    = 0x20
	ASCNotReadyToReady     = 0x28
)

// InquiryResponse is the standard INQUIRY response. Field shapes mirror
// ardnew-softusb's msc package; marshaling goes through bytewriter instead
// of manual offset bookkeeping.
type InquiryResponse struct {
	DeviceType       uint8
	RMB              uint8
	Version          uint8
	ResponseFormat   uint8
	AdditionalLength uint8
	Flags            [3]uint8
	VendorID         [8]byte
	ProductID        [16]byte
	ProductRev       [4]byte
}

const InquiryStandardSize = 36

func NewInquiryResponse(removable bool, vendor, product, revision string) *InquiryResponse {
	r := &InquiryResponse{
		DeviceType:       0x00, // direct-access block device
		Version:          0x06, // SPC-4
		ResponseFormat:   0x02,
		AdditionalLength: InquiryStandardSize - 5,
	}
	if removable {
		r.RMB = 0x80
	}
	copy(r.VendorID[:], padString(vendor, 8))
	copy(r.ProductID[:], padString(product, 16))
	copy(r.ProductRev[:], padString(revision, 4))
	return r
}

func (r *InquiryResponse) MarshalTo(buf []byte) (int, error) {
	if len(buf) < InquiryStandardSize {
		return 0, io.ErrShortBuffer
	}
	w := bytewriter.New(buf)
	for _, v := range []interface{}{
		r.DeviceType, r.RMB, r.Version, r.ResponseFormat, r.AdditionalLength,
		r.Flags, r.VendorID, r.ProductID, r.ProductRev,
	} {
		if err := binary.Write(w, binary.BigEndian, v); err != nil {
			return 0, err
		}
	}
	return InquiryStandardSize, nil
}

// ReadCapacity10Response is the READ CAPACITY (10) response.
type ReadCapacity10Response struct {
	LastLBA     uint32
	BlockLength uint32
}

func (r *ReadCapacity10Response) MarshalTo(buf []byte) (int, error) {
	if len(buf) < 8 {
		return 0, io.ErrShortBuffer
	}
	w := bytewriter.New(buf)
	binary.Write(w, binary.BigEndian, r.LastLBA)
	binary.Write(w, binary.BigEndian, r.BlockLength)
	return 8, nil
}

// RequestSenseResponse is the REQUEST SENSE response, fixed format.
type RequestSenseResponse struct {
	ResponseCode     uint8
	SenseKey         uint8
	Information      uint32
	AdditionalLength uint8
	ASC              uint8
	ASCQ             uint8
}

const senseResponseSize = 18

func NewRequestSenseResponse(key, asc, ascq uint8) *RequestSenseResponse {
	return &RequestSenseResponse{
		ResponseCode:     0x70,
		SenseKey:         key & 0x0F,
		AdditionalLength: 10,
		ASC:              asc,
		ASCQ:             ascq,
	}
}

func (r *RequestSenseResponse) MarshalTo(buf []byte) (int, error) {
	if len(buf) < senseResponseSize {
		return 0, io.ErrShortBuffer
	}
	for i := 0; i < senseResponseSize; i++ {
		buf[i] = 0
	}
	buf[0] = r.ResponseCode
	buf[2] = r.SenseKey & 0x0F
	binary.BigEndian.PutUint32(buf[3:7], r.Information)
	buf[7] = r.AdditionalLength
	buf[12] = r.ASC
	buf[13] = r.ASCQ
	return senseResponseSize, nil
}

// ModeSense6Response is the minimal MODE SENSE (6) stub the command
// contracts call for: mode data length only, no mode pages.
type ModeSense6Response struct {
	ModeDataLength uint8
	MediumType     uint8
	DeviceParam    uint8
	BlockDescLen   uint8
}

func (r *ModeSense6Response) MarshalTo(buf []byte) (int, error) {
	if len(buf) < 4 {
		return 0, io.ErrShortBuffer
	}
	w := bytewriter.New(buf)
	binary.Write(w, binary.BigEndian, r.ModeDataLength)
	binary.Write(w, binary.BigEndian, r.MediumType)
	binary.Write(w, binary.BigEndian, r.DeviceParam)
	binary.Write(w, binary.BigEndian, r.BlockDescLen)
	return 4, nil
}

func padString(s string, length int) []byte {
	out := make([]byte, length)
	for i := range out {
		if i < len(s) {
			out[i] = s[i]
		} else {
			out[i] = ' '
		}
	}
	return out
}
