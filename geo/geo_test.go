package geo

import "testing"

func TestCoarse(t *testing.T) {
	cases := []struct {
		name string
		loc  *Location
		want string
	}{
		{"city and country", &Location{Country: "US", City: "Portland"}, "Portland, US"},
		{"country only", &Location{Country: "DE"}, "DE"},
		{"city only", &Location{City: "Lisbon"}, "Lisbon"},
		{"empty", &Location{}, ""},
		{"nil", nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.loc.Coarse(); got != tc.want {
				t.Fatalf("Coarse() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestStaticResolver(t *testing.T) {
	r := StaticResolver{
		"203.0.113.10": {Country: "US", City: "Portland"},
	}

	loc, err := r.Resolve("203.0.113.10")
	if err != nil || loc == nil || loc.Country != "US" {
		t.Fatalf("Resolve: %+v/%v", loc, err)
	}

	// Returned locations are copies.
	loc.Country = "XX"
	again, _ := r.Resolve("203.0.113.10")
	if again.Country != "US" {
		t.Fatal("mutating a resolved location must not touch the table")
	}

	missing, err := r.Resolve("198.51.100.1")
	if err != nil || missing != nil {
		t.Fatalf("expected (nil, nil) for unknown IP, got %+v/%v", missing, err)
	}
}
