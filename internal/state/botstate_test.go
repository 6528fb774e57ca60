package state

import "testing"

func TestBotInitialState(t *testing.T) {
	b := NewBot(nil)
	if got := b.Snapshot().Status; got != StatusDisconnected {
		t.Errorf("initial status = %s, want disconnected", got)
	}
}

func TestApplyReportsConnectionEdges(t *testing.T) {
	b := NewBot(nil)

	ch := b.Apply(BotState{Status: StatusConnected, PhoneNumber: "+5511999999999"})
	if !ch.EnteredConnected() {
		t.Error("disconnected -> connected should report EnteredConnected")
	}
	if ch.LeftConnected() {
		t.Error("unexpected LeftConnected on connect")
	}

	ch = b.Apply(BotState{Status: StatusDisconnected})
	if !ch.LeftConnected() {
		t.Error("connected -> disconnected should report LeftConnected")
	}
}

func TestApplyDuplicateSnapshotIsNoChange(t *testing.T) {
	b := NewBot(nil)
	s := BotState{Status: StatusConnected, PhoneNumber: "+551188887777", UptimeMs: 1000}

	first := b.Apply(s)
	if !first.Changed {
		t.Error("first apply should report Changed")
	}

	second := b.Apply(s)
	if second.Changed {
		t.Error("identical re-push should not report Changed")
	}
	if second.EnteredConnected() {
		t.Error("identical re-push should not report a connection edge")
	}
	// The snapshot is still replaced wholesale.
	if b.Snapshot() != s {
		t.Errorf("snapshot = %+v, want %+v", b.Snapshot(), s)
	}
}

func TestOptimisticConnectingSupersededByPush(t *testing.T) {
	b := NewBot(nil)

	b.MarkConnecting()
	if got := b.Snapshot().Status; got != StatusConnecting {
		t.Errorf("status = %s, want connecting after MarkConnecting", got)
	}
	if !b.Optimistic() {
		t.Error("Optimistic() = false after MarkConnecting")
	}

	ch := b.Apply(BotState{Status: StatusConnected, PhoneNumber: "+5511"})
	if b.Optimistic() {
		t.Error("Optimistic() = true after authoritative push")
	}
	if ch.From != StatusConnecting || ch.To != StatusConnected {
		t.Errorf("change = %s -> %s, want connecting -> connected", ch.From, ch.To)
	}
}

func TestApplyClearsMeaninglessFields(t *testing.T) {
	b := NewBot(nil)

	// QR and pairing code survive only while connecting.
	b.Apply(BotState{Status: StatusConnecting, QRCode: "qr-payload", PairingCode: "ABCD-1234"})
	s := b.Snapshot()
	if s.QRCode != "qr-payload" || s.PairingCode != "ABCD-1234" {
		t.Errorf("connecting snapshot dropped artifacts: %+v", s)
	}

	b.Apply(BotState{Status: StatusConnected, QRCode: "stale", PairingCode: "stale", PhoneNumber: "+5511"})
	s = b.Snapshot()
	if s.QRCode != "" || s.PairingCode != "" {
		t.Errorf("connected snapshot kept QR artifacts: %+v", s)
	}
	if s.PhoneNumber != "+5511" {
		t.Errorf("phone = %q, want +5511", s.PhoneNumber)
	}

	b.Apply(BotState{Status: StatusDisconnected, PhoneNumber: "stale"})
	if got := b.Snapshot().PhoneNumber; got != "" {
		t.Errorf("disconnected snapshot kept phone %q", got)
	}
}

func TestQRAndPairingSetters(t *testing.T) {
	b := NewBot(NewSignal())
	b.MarkConnecting()
	b.SetQRCode("payload-1")
	b.SetPairingCode("WXYZ-9876")

	s := b.Snapshot()
	if s.QRCode != "payload-1" {
		t.Errorf("QRCode = %q, want payload-1", s.QRCode)
	}
	if s.PairingCode != "WXYZ-9876" {
		t.Errorf("PairingCode = %q, want WXYZ-9876", s.PairingCode)
	}
}
