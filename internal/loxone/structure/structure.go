// Package structure streams the Miniserver structure document
// (/data/LoxAPP3.json) incrementally via encoding/json.Decoder.Token,
// the Go rendering of a lazy-sequence progress reporter, instead of
// decoding the whole body into memory up front.
package structure

import (
	"context"
	"encoding/json"
	"io"

	"github.com/tutu-network/loxone-mcp-gateway/internal/domain"
)

// ParseProgress is emitted on the progress channel as rooms and
// controls are discovered while streaming.
type ParseProgress struct {
	BytesRead    int64
	RoomsSeen    int
	ControlsSeen int
}

// Document is the normalized result of a full parse: device and room
// maps ready for domain.ClientContext.UpdateStructure.
type Document struct {
	Devices map[string]domain.Device
	Rooms   map[string]domain.Room
}

type rawControl struct {
	UUIDAction string            `json:"uuidAction"`
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Room       string            `json:"room"`
	Cat        string            `json:"cat"`
	States     map[string]string `json:"states"`
}

type rawRoom struct {
	Name string `json:"name"`
}

type rawDocument struct {
	Rooms    map[string]rawRoom    `json:"rooms"`
	Controls map[string]rawControl `json:"controls"`
}

// categoryFromRaw maps the structure document's free-form category
// string to the closed domain.Category set, defaulting to Other.
func categoryFromRaw(cat string) domain.Category {
	c := domain.Category(cat)
	if domain.ValidCategory(c) {
		return c
	}
	return domain.CategoryOther
}

// Parse walks the structure document one JSON token at a time via
// json.Decoder.Token, descending into the top-level object to find the
// "rooms" and "controls" maps and decoding each entry individually
// rather than unmarshaling the whole body in one call. Progress is
// reported on progressCh (if non-nil; sends are best-effort, dropped if
// the channel is full so a slow consumer never blocks the parse).
// Malformed JSON surfaces as domain.KindSerialization; a body that ends
// mid-token surfaces as domain.KindConnection (truncated transfer).
func Parse(ctx context.Context, r io.Reader, progressCh chan<- ParseProgress) (Document, error) {
	dec := json.NewDecoder(r)
	doc := Document{Devices: map[string]domain.Device{}, Rooms: map[string]domain.Room{}}
	var roomsSeen, controlsSeen int

	if err := expectDelim(dec, '{'); err != nil {
		return Document{}, err
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return Document{}, classifyTokenErr(err)
		}
		key, _ := keyTok.(string)
		switch key {
		case "rooms":
			if err := expectDelim(dec, '{'); err != nil {
				return Document{}, err
			}
			for dec.More() {
				uuidTok, err := dec.Token()
				if err != nil {
					return Document{}, classifyTokenErr(err)
				}
				uuid, _ := uuidTok.(string)
				var rm rawRoom
				if err := dec.Decode(&rm); err != nil {
					return Document{}, classifyTokenErr(err)
				}
				doc.Rooms[uuid] = domain.Room{UUID: uuid, Name: rm.Name}
				roomsSeen++
				if err := checkCancel(ctx); err != nil {
					return Document{}, err
				}
				sendProgress(progressCh, ParseProgress{RoomsSeen: roomsSeen, ControlsSeen: controlsSeen})
			}
			if _, err := dec.Token(); err != nil { // consume closing '}'
				return Document{}, classifyTokenErr(err)
			}
		case "controls":
			if err := expectDelim(dec, '{'); err != nil {
				return Document{}, err
			}
			for dec.More() {
				uuidTok, err := dec.Token()
				if err != nil {
					return Document{}, classifyTokenErr(err)
				}
				uuid, _ := uuidTok.(string)
				var c rawControl
				if err := dec.Decode(&c); err != nil {
					return Document{}, classifyTokenErr(err)
				}
				doc.Devices[uuid] = domain.Device{
					UUID:       uuid,
					Name:       c.Name,
					DeviceType: c.Type,
					Category:   categoryFromRaw(c.Cat),
					Room:       c.Room,
					States:     c.States,
				}
				controlsSeen++
				if err := checkCancel(ctx); err != nil {
					return Document{}, err
				}
				sendProgress(progressCh, ParseProgress{RoomsSeen: roomsSeen, ControlsSeen: controlsSeen})
			}
			if _, err := dec.Token(); err != nil {
				return Document{}, classifyTokenErr(err)
			}
		default:
			// Field we don't model (e.g. globalStates, weatherServer):
			// skip its value without materializing it.
			var discard json.RawMessage
			if err := dec.Decode(&discard); err != nil {
				return Document{}, classifyTokenErr(err)
			}
		}
	}
	return doc, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return classifyTokenErr(err)
	}
	d, ok := tok.(json.Delim)
	if !ok || d != want {
		return domain.NewError(domain.KindSerialization, "unexpected token, want "+want.String())
	}
	return nil
}

func classifyTokenErr(err error) error {
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return domain.WrapError(domain.KindConnection, "truncated structure document", err)
	}
	return domain.WrapError(domain.KindSerialization, "malformed structure document", err)
}

func checkCancel(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func sendProgress(ch chan<- ParseProgress, p ParseProgress) {
	if ch == nil {
		return
	}
	select {
	case ch <- p:
	default:
	}
}
