package schema

import (
	"encoding/json"
	"testing"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("decode() error = %v", err)
	}
	return v
}

func TestValidate_WipeDevice_Valid(t *testing.T) {
	payload := decode(t, `{"deviceIdentifier":"disk4","tableType":"GPT","formatType":"ext4","label":"DATA"}`)
	if err := Validate("wipe_device", payload); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestValidate_WipeDevice_MissingField(t *testing.T) {
	payload := decode(t, `{"deviceIdentifier":"disk4","tableType":"GPT","formatType":"ext4"}`)
	if err := Validate("wipe_device", payload); err == nil {
		t.Errorf("Validate() expected error for missing label")
	}
}

func TestValidate_PreflightCheck_RequiresOneIdentifier(t *testing.T) {
	payload := decode(t, `{"operation":"resize_partition"}`)
	if err := Validate("preflight_check", payload); err == nil {
		t.Errorf("Validate() expected error when neither identifier is present")
	}

	ok := decode(t, `{"operation":"resize_partition","partitionIdentifier":"disk4s1"}`)
	if err := Validate("preflight_check", ok); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestValidate_UnknownAction(t *testing.T) {
	err := Validate("reformat_the_universe", map[string]any{})
	if _, ok := err.(ErrUnknownAction); !ok {
		t.Errorf("Validate() error = %v, want ErrUnknownAction", err)
	}
}

func TestKnownAction(t *testing.T) {
	if !KnownAction("get_journal") {
		t.Errorf("get_journal should be a known action")
	}
	if KnownAction("not_a_real_action") {
		t.Errorf("not_a_real_action should not be known")
	}
}

func TestValidate_GetJournal_EmptyPayload(t *testing.T) {
	if err := Validate("get_journal", decode(t, `{}`)); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}
