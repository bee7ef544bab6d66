package core

import "testing"

func TestTranscript_AppendAndCopy(t *testing.T) {
	tr := NewTranscript("s1")
	if tr.Len() != 0 {
		t.Fatalf("expected empty transcript, got %d turns", tr.Len())
	}

	tr.Append(NewUserTurn("hi"), NewAssistantTurn("hello"))
	all := tr.Turns()
	if len(all) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(all))
	}
	if all[0].Role != RoleUser || all[1].Role != RoleAssistant {
		t.Fatalf("unexpected order: %+v", all)
	}

	all[0].Text = "changed"
	if tr.Turns()[0].Text != "hi" {
		t.Error("turns slice should be copied on read")
	}
}

func TestTranscript_AppendNothingKeepsTimestamp(t *testing.T) {
	tr := NewTranscript("s2")
	before := tr.LastUpdated()
	tr.Append()
	if !tr.LastUpdated().Equal(before) {
		t.Error("empty append should not touch Updated")
	}
}
