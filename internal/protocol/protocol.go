// Package protocol translates caller messages into worker commands and
// worker results into replies.
//
// Text messages are JSON envelopes {"action": ..., "data": ...}. Binary
// messages are frames: an 8-byte big-endian header (width, height as uint32)
// followed by width*height RGBA bytes. Binary messages are always
// applyGreenscreenEffect requests and replies.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"sort"

	"github.com/GriffinCanCode/greenscreen/internal/compositor"
	apperrors "github.com/GriffinCanCode/greenscreen/internal/errors"
	"github.com/GriffinCanCode/greenscreen/internal/worker"
)

// FrameHeaderSize is the size of the binary frame header.
const FrameHeaderSize = 8

// Older clients send updates under this name with a {key, value} payload.
const actionUpdateBackgroundSettings = "updateBackgroundSettings"

// Envelope is the JSON command wrapper.
type Envelope struct {
	Action  string          `json:"action"`
	Data    json.RawMessage `json:"data,omitempty"`
	TraceID string          `json:"trace_id,omitempty"`
}

// FramePayload carries pixels for setBackgroundImage and applyGreenscreenEffect.
// Pixels are base64 in JSON; Buffer is accepted as an alias.
type FramePayload struct {
	Pixels []byte `json:"pixels,omitempty"`
	Buffer []byte `json:"buffer,omitempty"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func (p FramePayload) pixels() []byte {
	if p.Pixels != nil {
		return p.Pixels
	}
	return p.Buffer
}

// Decode parses a JSON envelope into a command. Unrecognised actions become
// worker.Unknown so the worker can report them.
func Decode(msg []byte) (worker.Command, Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return nil, env, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "malformed command")
	}
	cmd, err := decodeAction(env)
	return cmd, env, err
}

func decodeAction(env Envelope) (worker.Command, error) {
	switch env.Action {
	case worker.ActionRemoveBackgroundImage:
		return worker.RemoveBackgroundImage{}, nil

	case worker.ActionSetBackgroundImage:
		p, err := decodeFrame(env)
		if err != nil {
			return nil, err
		}
		return worker.SetBackgroundImage{Pixels: p.pixels(), Width: p.Width, Height: p.Height}, nil

	case worker.ActionUpdateBackground, actionUpdateBackgroundSettings:
		return DecodeUpdate(env.Data)

	case worker.ActionApplyGreenscreenEffect:
		p, err := decodeFrame(env)
		if err != nil {
			return nil, err
		}
		return worker.ApplyGreenscreenEffect{Pixels: p.pixels(), Width: p.Width, Height: p.Height}, nil

	default:
		return worker.Unknown{Name: env.Action}, nil
	}
}

func decodeFrame(env Envelope) (FramePayload, error) {
	var p FramePayload
	if len(env.Data) == 0 {
		return p, apperrors.Newf(apperrors.CodeInvalidArgument, "%s requires a payload", env.Action)
	}
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return p, apperrors.Wrapf(err, apperrors.CodeInvalidArgument, "malformed %s payload", env.Action)
	}
	return p, nil
}

// DecodeUpdate parses a partial configuration. It accepts an object of
// fields or a single {"key": ..., "value": ...} pair. Unrecognised keys are
// collected rather than rejected; a value of the wrong type rejects the
// whole update.
func DecodeUpdate(data json.RawMessage) (worker.UpdateBackground, error) {
	var upd worker.UpdateBackground
	if len(data) == 0 {
		return upd, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return upd, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "update payload must be an object")
	}

	if key, value, ok := singleKey(fields); ok {
		fields = map[string]json.RawMessage{key: value}
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p := &upd.Patch
	for _, k := range keys {
		raw := fields[k]
		var err error
		switch k {
		case "x":
			p.X, err = decodeField[int](raw)
		case "y":
			p.Y, err = decodeField[int](raw)
		case "previewOverlay":
			p.PreviewOverlay, err = decodeField[bool](raw)
		case "tolerance":
			p.Tolerance, err = decodeField[float64](raw)
		case "darkestChroma":
			p.DarkestChroma, err = decodeField[string](raw)
		case "lightestChroma":
			p.LightestChroma, err = decodeField[string](raw)
		default:
			upd.UnknownKeys = append(upd.UnknownKeys, k)
		}
		if err != nil {
			return worker.UpdateBackground{}, apperrors.Wrapf(err, apperrors.CodeInvalidArgument, "invalid value for %s", k).
				WithMetadata("key", k)
		}
	}
	return upd, nil
}

// singleKey recognises the {"key": name, "value": v} form.
func singleKey(fields map[string]json.RawMessage) (string, json.RawMessage, bool) {
	rawKey, hasKey := fields["key"]
	value, hasValue := fields["value"]
	if !hasKey || !hasValue || len(fields) != 2 {
		return "", nil, false
	}
	var key string
	if err := json.Unmarshal(rawKey, &key); err != nil {
		return "", nil, false
	}
	return key, value, true
}

func decodeField[T any](raw json.RawMessage) (*T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// DecodeFrame parses a binary frame message. The returned command aliases msg.
func DecodeFrame(msg []byte) (worker.ApplyGreenscreenEffect, error) {
	if len(msg) < FrameHeaderSize {
		return worker.ApplyGreenscreenEffect{}, apperrors.Newf(apperrors.CodeInvalidBufferSize,
			"binary frame has %d bytes, shorter than its header", len(msg))
	}
	return worker.ApplyGreenscreenEffect{
		Width:  int(binary.BigEndian.Uint32(msg[0:4])),
		Height: int(binary.BigEndian.Uint32(msg[4:8])),
		Pixels: msg[FrameHeaderSize:],
	}, nil
}

// EncodeFrame builds a binary frame message.
func EncodeFrame(f *worker.Frame) []byte {
	out := make([]byte, FrameHeaderSize+len(f.Pixels))
	binary.BigEndian.PutUint32(out[0:4], uint32(f.Width))
	binary.BigEndian.PutUint32(out[4:8], uint32(f.Height))
	copy(out[FrameHeaderSize:], f.Pixels)
	return out
}

// Reply message types.

type FrameMessage struct {
	Type     string `json:"type"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Pixels   []byte `json:"pixels"`
	Replaced int    `json:"replaced"`
}

type AckMessage struct {
	Type     string         `json:"type"`
	Action   string         `json:"action"`
	Warnings []ErrorMessage `json:"warnings,omitempty"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}

// Reply converts a worker result into the message sent back to the caller.
func Reply(res worker.Result) any {
	if res.Err != nil {
		return ErrorReply(res.Err, res.Action)
	}
	if res.Frame != nil {
		return FrameMessage{
			Type:     "frame",
			Width:    res.Frame.Width,
			Height:   res.Frame.Height,
			Pixels:   res.Frame.Pixels,
			Replaced: res.Stats.Replaced,
		}
	}
	ack := AckMessage{Type: "ack", Action: res.Action}
	for _, w := range res.Warnings {
		ack.Warnings = append(ack.Warnings, ErrorReply(w, res.Action))
	}
	return ack
}

// ErrorReply describes err to the caller.
func ErrorReply(err error, action string) ErrorMessage {
	msg := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	return ErrorMessage{Type: "error", Code: apperrors.CodeOf(err).String(), Message: msg, Action: action}
}

// ConfigView is the JSON form of a snapshot, without pixel data.
type ConfigView struct {
	DarkestChroma  string          `json:"darkestChroma"`
	LightestChroma string          `json:"lightestChroma"`
	Tolerance      float64         `json:"tolerance"`
	X              int             `json:"x"`
	Y              int             `json:"y"`
	PreviewOverlay bool            `json:"previewOverlay"`
	Background     *BackgroundView `json:"background"`
}

type BackgroundView struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Hash   string `json:"hash,omitempty"`
}

// View renders a snapshot.
func View(snap compositor.Snapshot) ConfigView {
	v := ConfigView{
		DarkestChroma:  snap.Range.Darkest.String(),
		LightestChroma: snap.Range.Lightest.String(),
		Tolerance:      snap.Tolerance,
		X:              snap.OffsetX,
		Y:              snap.OffsetY,
		PreviewOverlay: snap.PreviewOverlay,
	}
	if bg := snap.Background; bg != nil {
		v.Background = &BackgroundView{Width: bg.Width, Height: bg.Height, Hash: bg.HashString()}
	}
	return v
}
