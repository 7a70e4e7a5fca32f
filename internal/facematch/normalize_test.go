package facematch

import "testing"

func TestRemoveDiacritics(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Lan", "Lan"},
		{"Nguyễn Văn An", "Nguyen Van An"},
		{"Đặng Thị Hồng", "Dang Thi Hong"},
		{"đường", "duong"},
		{"café", "cafe"},
		{"Jiří", "Jiri"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := RemoveDiacritics(tt.input)
			if result != tt.expected {
				t.Errorf("RemoveDiacritics(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNormalizePersonName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Trần Minh Khoa", "tran minh khoa"},
		{"tran-minh-khoa", "tran minh khoa"},
		{"  LÊ   HOÀNG  ", "le hoang"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := NormalizePersonName(tt.input)
			if result != tt.expected {
				t.Errorf("NormalizePersonName(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNameMatches(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  bool
	}{
		{"Phạm Đức Anh", "duc", true},
		{"Phạm Đức Anh", "PHAM DUC", true},
		{"Phạm Đức Anh", "", true},
		{"Phạm Đức Anh", "minh", false},
	}
	for _, tt := range tests {
		if got := NameMatches(tt.name, tt.query); got != tt.want {
			t.Errorf("NameMatches(%q, %q) = %v, want %v", tt.name, tt.query, got, tt.want)
		}
	}
}
