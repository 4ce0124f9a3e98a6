package index

import (
	"reflect"
	"testing"
)

func TestIntersect(t *testing.T) {
	tests := []struct {
		name string
		a, b PostingList
		want PostingList
	}{
		{"overlap", PostingList{1, 3, 5, 7}, PostingList{3, 4, 5}, PostingList{3, 5}},
		{"disjoint", PostingList{1, 2}, PostingList{3, 4}, PostingList{}},
		{"empty side", PostingList{1, 2}, nil, nil},
		{"identical", PostingList{2, 4}, PostingList{2, 4}, PostingList{2, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Intersect(tt.a, tt.b)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Intersect = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUnion(t *testing.T) {
	got := Union(PostingList{1, 3, 5}, PostingList{2, 3, 6})
	want := PostingList{1, 2, 3, 5, 6}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Union = %v, want %v", got, want)
	}
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		s       string
		want    bool
	}{
		{"api", "api", true},
		{"api", "api-1", false},
		{"api-*", "api-7f9c", true},
		{"api-*", "web-7f9c", false},
		{"*-worker", "batch-worker", true},
		{"*-worker", "worker", false},
		{"*err*", "transferred", true},
		{"a*c*e", "abcde", true},
		{"a*c*e", "ace", true},
		{"a*c*e", "abde", false},
		{"*", "", true},
		{"*", "anything", true},
	}
	for _, tt := range tests {
		if got := MatchPattern(tt.pattern, tt.s); got != tt.want {
			t.Errorf("MatchPattern(%q, %q) = %v, want %v", tt.pattern, tt.s, got, tt.want)
		}
	}
}
