package core

import (
	"errors"
	"strings"
	"testing"
)

func TestRegistry(t *testing.T) {
	withTestRegistry(t)

	if got := EntityCount(); got != 3 {
		t.Fatalf("EntityCount = %d, want 3", got)
	}

	all := All()
	keys := make([]string, len(all))
	for i, e := range all {
		keys[i] = e.Key
	}
	if strings.Join(keys, ",") != "inventory,payment,sale" {
		t.Errorf("All keys = %v, want sorted", keys)
	}

	if _, ok := Get("sale"); !ok {
		t.Error("Get(sale) not found")
	}
	if _, ok := Get("missing"); ok {
		t.Error("Get(missing) found")
	}
}

func TestRegister_DuplicatePanics(t *testing.T) {
	withTestRegistry(t)

	defer func() {
		if recover() == nil {
			t.Error("Register duplicate did not panic")
		}
	}()
	Register(testSale())
}

func TestReplace(t *testing.T) {
	withTestRegistry(t)

	ent := testSale()
	ent.Label = "Orders"
	if err := Replace(ent); err != nil {
		t.Fatalf("Replace error = %v", err)
	}
	got, _ := Get("sale")
	if got.Label != "Orders" {
		t.Errorf("Label = %q, want Orders", got.Label)
	}

	bad := testSale()
	bad.Table = "Sales; DROP TABLE"
	if err := Replace(bad); err == nil {
		t.Error("Replace accepted an invalid table name")
	}
}

func TestValidateEntity(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(e *Entity)
		wantErr string
	}{
		{"valid", func(e *Entity) {}, ""},
		{"bad key", func(e *Entity) { e.Key = "Inventory" }, "key"},
		{"bad table", func(e *Entity) { e.Table = "inv-table" }, "table"},
		{"no fields", func(e *Entity) { e.Fields = nil; e.NaturalKey = nil }, "at least one field"},
		{"duplicate field", func(e *Entity) { e.Fields = append(e.Fields, FieldSpec{Name: "model"}) }, "declared more than once"},
		{"additive text", func(e *Entity) { e.Fields[1].Additive = true }, "only numeric fields can be additive"},
		{"no natural key", func(e *Entity) { e.NaturalKey = nil }, "natural_key"},
		{"unknown key field", func(e *Entity) { e.NaturalKey = []string{"imei"} }, `unknown field "imei"`},
		{"unknown required", func(e *Entity) { e.Required = []string{"colour"} }, `unknown field "colour"`},
		{"parent without local field", func(e *Entity) { e.Parent = &ParentRef{Entity: "sale", Field: "order_id"} }, "local field"},
		{"parent with local field", func(e *Entity) {
			e.Parent = &ParentRef{Entity: "product", Field: "code", LocalField: "model"}
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ent := testInventory()
			tt.mutate(ent)
			err := ValidateEntity(ent)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidateEntity error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateEntity error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateEntity_CollectsAllProblems(t *testing.T) {
	ent := testInventory()
	ent.Key = "Bad Key"
	ent.Table = ""
	err := ValidateEntity(ent)

	var ve ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("ValidateEntity error = %v, want ValidationError", err)
	}
	if !strings.Contains(err.Error(), "key:") || !strings.Contains(err.Error(), "table:") {
		t.Errorf("error = %v, want both key and table problems", err)
	}
}

func TestEntity_RequiredFields(t *testing.T) {
	ent := testInventory()
	ent.Required = []string{"model", "serial_number"}
	got := ent.RequiredFields()
	if strings.Join(got, ",") != "serial_number,model" {
		t.Errorf("RequiredFields = %v, want [serial_number model]", got)
	}
}
