package protocol

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/GriffinCanCode/greenscreen/internal/compositor"
	apperrors "github.com/GriffinCanCode/greenscreen/internal/errors"
	"github.com/GriffinCanCode/greenscreen/internal/worker"
)

func TestDecodeActions(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		action string
	}{
		{"remove", `{"action":"removeBackgroundImage"}`, worker.ActionRemoveBackgroundImage},
		{"set", `{"action":"setBackgroundImage","data":{"pixels":"AQIDBA==","width":1,"height":1}}`, worker.ActionSetBackgroundImage},
		{"update", `{"action":"updateBackground","data":{"x":3}}`, worker.ActionUpdateBackground},
		{"update legacy", `{"action":"updateBackgroundSettings","data":{"key":"y","value":4}}`, worker.ActionUpdateBackground},
		{"composite", `{"action":"applyGreenscreenEffect","data":{"buffer":"AQIDBA==","width":1,"height":1}}`, worker.ActionApplyGreenscreenEffect},
		{"unknown", `{"action":"rotate"}`, "rotate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, _, err := Decode([]byte(tt.input))
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			if cmd.Action() != tt.action {
				t.Errorf("Action() = %q, want %q", cmd.Action(), tt.action)
			}
		})
	}
}

func TestDecodeFramePayload(t *testing.T) {
	cmd, env, err := Decode([]byte(`{"action":"applyGreenscreenEffect","trace_id":"t-1","data":{"pixels":"AQIDBA==","width":1,"height":1}}`))
	if err != nil {
		t.Fatal(err)
	}
	c, ok := cmd.(worker.ApplyGreenscreenEffect)
	if !ok {
		t.Fatalf("command type = %T", cmd)
	}
	if !bytes.Equal(c.Pixels, []byte{1, 2, 3, 4}) || c.Width != 1 || c.Height != 1 {
		t.Errorf("command = %+v", c)
	}
	if env.TraceID != "t-1" {
		t.Errorf("TraceID = %q", env.TraceID)
	}
}

func TestDecodeUnknownIsVariant(t *testing.T) {
	cmd, _, err := Decode([]byte(`{"action":"explode","data":{}}`))
	if err != nil {
		t.Fatal(err)
	}
	if u, ok := cmd.(worker.Unknown); !ok || u.Name != "explode" {
		t.Errorf("command = %#v, want Unknown{explode}", cmd)
	}
}

func TestDecodeMalformed(t *testing.T) {
	inputs := []string{
		`not json`,
		`{"action":"setBackgroundImage"}`,
		`{"action":"applyGreenscreenEffect","data":{"pixels":"!!!","width":1,"height":1}}`,
		`{"action":"updateBackground","data":[1,2]}`,
	}
	for _, in := range inputs {
		if _, _, err := Decode([]byte(in)); !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
			t.Errorf("Decode(%s) error = %v, want INVALID_ARGUMENT", in, err)
		}
	}
}

func TestDecodeUpdateFields(t *testing.T) {
	upd, err := DecodeUpdate(json.RawMessage(`{
		"x": -10, "y": 20, "previewOverlay": true, "tolerance": 0.3,
		"darkestChroma": "#001100", "lightestChroma": "22ff22",
		"zoom": 2, "angle": 90
	}`))
	if err != nil {
		t.Fatalf("DecodeUpdate error: %v", err)
	}
	p := upd.Patch
	if p.X == nil || *p.X != -10 || p.Y == nil || *p.Y != 20 {
		t.Errorf("offset = %v, %v", p.X, p.Y)
	}
	if p.PreviewOverlay == nil || !*p.PreviewOverlay {
		t.Error("previewOverlay should be true")
	}
	if p.Tolerance == nil || *p.Tolerance != 0.3 {
		t.Error("tolerance should be 0.3")
	}
	if p.DarkestChroma == nil || *p.DarkestChroma != "#001100" {
		t.Error("darkestChroma mismatch")
	}
	if p.LightestChroma == nil || *p.LightestChroma != "22ff22" {
		t.Error("lightestChroma mismatch")
	}
	if len(upd.UnknownKeys) != 2 || upd.UnknownKeys[0] != "angle" || upd.UnknownKeys[1] != "zoom" {
		t.Errorf("UnknownKeys = %v, want [angle zoom]", upd.UnknownKeys)
	}
}

func TestDecodeUpdateSingleKey(t *testing.T) {
	upd, err := DecodeUpdate(json.RawMessage(`{"key":"tolerance","value":0.5}`))
	if err != nil {
		t.Fatal(err)
	}
	if upd.Patch.Tolerance == nil || *upd.Patch.Tolerance != 0.5 {
		t.Error("tolerance should be 0.5")
	}

	upd, err = DecodeUpdate(json.RawMessage(`{"key":"brightness","value":1}`))
	if err != nil {
		t.Fatal(err)
	}
	if !upd.Patch.Empty() || len(upd.UnknownKeys) != 1 || upd.UnknownKeys[0] != "brightness" {
		t.Errorf("update = %+v", upd)
	}
}

func TestDecodeUpdateBadType(t *testing.T) {
	for _, in := range []string{`{"x":"left"}`, `{"x":1.5}`, `{"tolerance":"high"}`, `{"previewOverlay":1}`} {
		_, err := DecodeUpdate(json.RawMessage(in))
		if !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
			t.Errorf("DecodeUpdate(%s) error = %v, want INVALID_ARGUMENT", in, err)
		}
	}
}

func TestBinaryFrameRoundTrip(t *testing.T) {
	f := &worker.Frame{Pixels: []byte{1, 2, 3, 4, 5, 6, 7, 8}, Width: 2, Height: 1}

	msg := EncodeFrame(f)
	if len(msg) != FrameHeaderSize+8 {
		t.Fatalf("len = %d", len(msg))
	}
	if !bytes.Equal(msg[:8], []byte{0, 0, 0, 2, 0, 0, 0, 1}) {
		t.Errorf("header = %v, want big-endian 2x1", msg[:8])
	}

	cmd, err := DecodeFrame(msg)
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Width != 2 || cmd.Height != 1 || !bytes.Equal(cmd.Pixels, f.Pixels) {
		t.Errorf("decoded = %+v", cmd)
	}

	if _, err := DecodeFrame([]byte{0, 0, 1}); !apperrors.IsCode(err, apperrors.CodeInvalidBufferSize) {
		t.Errorf("short frame error = %v, want INVALID_BUFFER_SIZE", err)
	}
}

func TestReply(t *testing.T) {
	frame := Reply(worker.Result{
		Action: worker.ActionApplyGreenscreenEffect,
		Frame:  &worker.Frame{Pixels: []byte{1, 2, 3, 4}, Width: 1, Height: 1},
		Stats:  compositor.Stats{Visited: 1, Replaced: 1},
	})
	if fm, ok := frame.(FrameMessage); !ok || fm.Type != "frame" || fm.Replaced != 1 {
		t.Errorf("frame reply = %#v", frame)
	}

	warn := apperrors.New(apperrors.CodeUnknownConfigKey, "unexpected background setting key: zoom")
	ack := Reply(worker.Result{Action: worker.ActionUpdateBackground, Warnings: []error{warn}})
	am, ok := ack.(AckMessage)
	if !ok || am.Type != "ack" || len(am.Warnings) != 1 || am.Warnings[0].Code != "UNKNOWN_CONFIG_KEY" {
		t.Errorf("ack reply = %#v", ack)
	}

	rej := Reply(worker.Result{Action: "spin", Err: apperrors.New(apperrors.CodeUnknownCommand, "unknown action: spin")})
	em, ok := rej.(ErrorMessage)
	if !ok || em.Code != "UNKNOWN_COMMAND" || em.Message != "unknown action: spin" || em.Action != "spin" {
		t.Errorf("error reply = %#v", rej)
	}
}

func TestView(t *testing.T) {
	snap := compositor.DefaultSnapshot()
	v := View(snap)
	if v.DarkestChroma != "#001e00" || v.LightestChroma != "#00ff00" || v.Background != nil {
		t.Errorf("view = %+v", v)
	}

	bg, err := compositor.NewBackground(make([]byte, 4*3*2), 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	snap.Background = bg
	snap.OffsetX = 5
	v = View(snap)
	if v.Background == nil || v.Background.Width != 3 || v.Background.Height != 2 || v.X != 5 {
		t.Errorf("view = %+v", v)
	}

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte(`"previewOverlay":false`)) {
		t.Errorf("json = %s", data)
	}
}
