package subnet

import "testing"

func TestParseTable(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int
		wantErr bool
	}{
		{name: "tab separated", in: "10.0.0.1\t00:16:3e:00:00:01\n10.0.0.2\t00:16:3e:00:00:02\n", want: 2},
		{name: "blank lines", in: "\n10.0.0.1 00:16:3e:00:00:01\n\n", want: 1},
		{name: "empty", in: "", want: 0},
		{name: "missing mac", in: "10.0.0.1\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := ParseTable(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTable() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(table) != tt.want {
				t.Errorf("len(table) = %d, want %d", len(table), tt.want)
			}
		})
	}
}

func TestTable_Pick(t *testing.T) {
	table := Table{
		{Address: "10.0.0.1", MAC: "00:16:3e:00:00:01"},
		{Address: "10.0.0.2", MAC: "00:16:3e:00:00:02"},
		{Address: "10.0.0.3", MAC: "00:16:3e:00:00:03"},
	}

	tests := []struct {
		ordinal int
		want    string
	}{
		{0, "10.0.0.1"},
		{1, "10.0.0.2"},
		{2, "10.0.0.3"},
		{3, "10.0.0.1"},
		{7, "10.0.0.2"},
		{300, "10.0.0.1"},
	}

	for _, tt := range tests {
		for i := 0; i < 2; i++ {
			got, err := table.Pick(tt.ordinal)
			if err != nil {
				t.Fatalf("Pick(%d) failed: %v", tt.ordinal, err)
			}
			if got.Address != tt.want {
				t.Errorf("Pick(%d) = %s, want %s", tt.ordinal, got.Address, tt.want)
			}
		}
	}

	if _, err := table.Pick(-1); err == nil {
		t.Error("expected error for negative ordinal")
	}
	if _, err := (Table{}).Pick(0); err == nil {
		t.Error("expected error for empty table")
	}
}
