package audit

import (
	"reflect"
	"testing"
)

func TestBuildBaseQueryNoFilter(t *testing.T) {
	query, args := buildBaseQuery("SELECT COUNT(1)", Filter{})
	if query != "SELECT COUNT(1) FROM audit_events WHERE 1=1" {
		t.Fatalf("unexpected query %q", query)
	}
	if len(args) != 0 {
		t.Fatalf("expected no args, got %v", args)
	}
}

func TestBuildBaseQueryNumbersPlaceholdersInOrder(t *testing.T) {
	query, args := buildBaseQuery("SELECT id", Filter{EntityType: EntityPayrollRun, EntityID: "run-1", ActorID: "u-9"})
	want := "SELECT id FROM audit_events WHERE 1=1 AND entity_type = $1 AND entity_id = $2 AND actor_id = $3"
	if query != want {
		t.Fatalf("expected %q, got %q", want, query)
	}
	if !reflect.DeepEqual(args, []any{EntityPayrollRun, "run-1", "u-9"}) {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestMarshalOptional(t *testing.T) {
	out, err := marshalOptional(nil)
	if err != nil || out != nil {
		t.Fatalf("expected nil payload, got %s, %v", out, err)
	}
	out, err = marshalOptional(map[string]string{"status": "draft"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"status":"draft"}` {
		t.Fatalf("unexpected payload %s", out)
	}
}
