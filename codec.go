package sigsock

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"strconv"

	"github.com/pkg/errors"
)

// Wire layout constants.
const (
	// TagSize is the width of the frame tag.
	TagSize = 3
	// SignalWidth is the fixed width of a signal name field.
	SignalWidth = 30
	// LengthWidth is the fixed width of a Data or Image length field.
	LengthWidth = 16

	// TerminateSignal ends the receive loop on whichever side receives it.
	TerminateSignal = "END_PROGRAM"

	padByte = ' '
)

// Frame tags.
const (
	TagSignal = "SIG"
	TagData   = "DAT"
	TagImage  = "IMG"
)

// maxLength is the largest value that fits in the length field.
const maxLength int64 = 1e16 - 1

// Kind is the type of a frame.
type Kind int

const (
	KindSignal Kind = iota + 1
	KindData
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindSignal:
		return "signal"
	case KindData:
		return "data"
	case KindImage:
		return "image"
	default:
		return "unknown"
	}
}

// Frame is one decoded message. Only the field matching Kind is set.
type Frame struct {
	Kind   Kind
	Signal string
	Data   Data
	Image  image.Image
}

// Data is the JSON payload of a data frame.
type Data []byte

// Decode unmarshals the payload into v. Numbers decoded into an interface
// value become json.Number so integers wider than 53 bits survive.
func (d Data) Decode(v any) error {
	dec := json.NewDecoder(bytes.NewReader(d))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "decode data")
	}
	return nil
}

// String returns the raw JSON text.
func (d Data) String() string {
	return string(d)
}

// ValidSignal reports whether name can be carried in a signal frame.
func ValidSignal(name string) error {
	if name == "" || len(name) > SignalWidth {
		return errors.Wrapf(ErrInvalidSignal, "%q: length must be 1..%d", name, SignalWidth)
	}
	for i := 0; i < len(name); i++ {
		if c := name[i]; c <= padByte || c > '~' {
			return errors.Wrapf(ErrInvalidSignal, "%q: byte %#x at %d", name, c, i)
		}
	}
	return nil
}

// EncodeSignal returns the SIG tag followed by name, space-padded to SignalWidth.
func EncodeSignal(name string) ([]byte, error) {
	if err := ValidSignal(name); err != nil {
		return nil, err
	}

	out := make([]byte, TagSize+SignalWidth)
	copy(out, TagSignal)
	n := copy(out[TagSize:], name)
	pad(out[TagSize+n:])
	return out, nil
}

// EncodeData returns the DAT tag, the length field and the JSON text of v.
func EncodeData(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(ErrSerialization, "%T: %v", v, err)
	}
	return lengthPrefixed(TagData, payload)
}

// EncodeImage returns the IMG tag, the length field and img encoded as PNG.
//
// Pixels come back unchanged for *image.NRGBA, *image.NRGBA64, *image.Gray,
// *image.Gray16, *image.Paletted and opaque *image.RGBA or *image.RGBA64.
// Premultiplied images with translucent pixels would lose precision and fail
// with ErrSerialization; convert them to *image.NRGBA first. PNG has no
// origin, so the decoded image always starts at (0, 0).
func EncodeImage(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, errors.Wrap(ErrSerialization, "nil image")
	}
	if translucentPremultiplied(img) {
		return nil, errors.Wrapf(ErrSerialization, "%T has translucent premultiplied pixels", img)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrapf(ErrSerialization, "png: %v", err)
	}
	return lengthPrefixed(TagImage, buf.Bytes())
}

func translucentPremultiplied(img image.Image) bool {
	switch img.ColorModel() {
	case color.RGBAModel, color.RGBA64Model:
	default:
		return false
	}
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return true
}

func lengthPrefixed(tag string, payload []byte) ([]byte, error) {
	if int64(len(payload)) > maxLength {
		return nil, errors.Wrapf(ErrSerialization, "payload of %d bytes exceeds length field", len(payload))
	}

	out := make([]byte, TagSize+LengthWidth+len(payload))
	copy(out, tag)
	n := copy(out[TagSize:], strconv.Itoa(len(payload)))
	pad(out[TagSize+n : TagSize+LengthWidth])
	copy(out[TagSize+LengthWidth:], payload)
	return out, nil
}

func pad(b []byte) {
	for i := range b {
		b[i] = padByte
	}
}

// DecodeHeader maps a frame tag to its Kind.
func DecodeHeader(tag []byte) (Kind, error) {
	switch string(tag) {
	case TagSignal:
		return KindSignal, nil
	case TagData:
		return KindData, nil
	case TagImage:
		return KindImage, nil
	default:
		return 0, errors.Wrapf(ErrUnknownFrameKind, "tag %q", tag)
	}
}

// DecodeSignal strips the padding from a signal name field.
func DecodeSignal(field []byte) (string, error) {
	name := string(bytes.TrimRight(field, string(padByte)))
	if err := ValidSignal(name); err != nil {
		return "", err
	}
	return name, nil
}

// DecodeLength parses a length field. Non-numeric and non-positive values are
// rejected.
func DecodeLength(field []byte) (int, error) {
	text := string(bytes.TrimRight(field, string(padByte)))
	n, err := strconv.Atoi(text)
	if err != nil || n <= 0 || text[0] == '+' {
		return 0, errors.Wrapf(ErrInvalidLength, "%q", field)
	}
	return n, nil
}

// DecodeImage decodes a PNG blob. The image bounds start at (0, 0).
func DecodeImage(blob []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(blob))
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}
	return img, nil
}

// ReadFrame reads one complete frame from r. Payloads longer than limit are
// rejected with ErrMessageTooLarge before any payload byte is read; a
// non-positive limit disables the check. On a *ClosedError the Read count
// covers every byte of the frame consumed so far.
func ReadFrame(r *ExactReader, limit int) (Frame, error) {
	consumed := 0
	read := func(n int) ([]byte, error) {
		b, err := r.ReadExact(n)
		if err != nil {
			var ce *ClosedError
			if errors.As(err, &ce) {
				return nil, &ClosedError{Read: consumed + ce.Read, Want: consumed + n}
			}
			return nil, err
		}
		consumed += n
		return b, nil
	}

	tag, err := read(TagSize)
	if err != nil {
		return Frame{}, err
	}
	kind, err := DecodeHeader(tag)
	if err != nil {
		return Frame{}, err
	}

	if kind == KindSignal {
		field, err := read(SignalWidth)
		if err != nil {
			return Frame{}, err
		}
		name, err := DecodeSignal(field)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: kind, Signal: name}, nil
	}

	field, err := read(LengthWidth)
	if err != nil {
		return Frame{}, err
	}
	n, err := DecodeLength(field)
	if err != nil {
		return Frame{}, err
	}
	if limit > 0 && n > limit {
		return Frame{}, errors.Wrapf(ErrMessageTooLarge, "%s frame of %d bytes, limit %d", kind, n, limit)
	}
	payload, err := read(n)
	if err != nil {
		return Frame{}, err
	}

	if kind == KindData {
		if !json.Valid(payload) {
			return Frame{}, errors.Wrap(ErrSerialization, "data payload is not valid JSON")
		}
		return Frame{Kind: kind, Data: Data(payload)}, nil
	}

	img, err := DecodeImage(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Kind: kind, Image: img}, nil
}
