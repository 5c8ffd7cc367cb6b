package analytics

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestTargetTableName(t *testing.T) {
	connID := uuid.MustParse("a1b2c3d4-e5f6-7890-abcd-ef0123456789")

	tests := []struct {
		name        string
		sourceTable string
		want        string
	}{
		{
			name:        "plain table",
			sourceTable: "orders",
			want:        "conn_a1b2c3d4_orders",
		},
		{
			name:        "uppercase flattened",
			sourceTable: "Orders",
			want:        "conn_a1b2c3d4_orders",
		},
		{
			name:        "qualified name flattened",
			sourceTable: "sales.orders",
			want:        "conn_a1b2c3d4_sales_orders",
		},
		{
			name:        "special characters replaced",
			sourceTable: "order-items$v2",
			want:        "conn_a1b2c3d4_order_items_v2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TargetTableName(connID, tt.sourceTable); got != tt.want {
				t.Errorf("TargetTableName = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTargetTableNameDeterministic(t *testing.T) {
	connID := uuid.New()
	first := TargetTableName(connID, "customers")
	second := TargetTableName(connID, "customers")
	if first != second {
		t.Errorf("non-deterministic: %q then %q", first, second)
	}
}

func TestTargetTableNameCapsLength(t *testing.T) {
	connID := uuid.New()
	long := strings.Repeat("a", 100)
	got := TargetTableName(connID, long)
	if len(got) > 63 {
		t.Errorf("name length %d exceeds the 63-char identifier limit", len(got))
	}
	// Long names from the same connection must still differ when their
	// distinguishing prefix fits.
	other := TargetTableName(connID, "b"+strings.Repeat("a", 99))
	if got == other {
		t.Errorf("distinct tables collapsed to %q", got)
	}
}

func TestTargetTableNameDistinctConnections(t *testing.T) {
	a := TargetTableName(uuid.MustParse("11111111-0000-0000-0000-000000000000"), "orders")
	b := TargetTableName(uuid.MustParse("22222222-0000-0000-0000-000000000000"), "orders")
	if a == b {
		t.Errorf("different connections produced the same table %q", a)
	}
}

func TestEntityLabel(t *testing.T) {
	tests := []struct {
		sourceTable string
		want        string
	}{
		{"orders", "order"},
		{"customer_orders", "customer order"},
		{"people", "person"},
		{"order_statuses", "order status"},
		{"inventory", "inventory"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.sourceTable, func(t *testing.T) {
			if got := EntityLabel(tt.sourceTable); got != tt.want {
				t.Errorf("EntityLabel(%q) = %q, want %q", tt.sourceTable, got, tt.want)
			}
		})
	}
}
