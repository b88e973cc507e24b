package room

// Scale is an immutable whitelist of permissible vote values.
type Scale struct {
	ID     string   `json:"id"`
	Values []string `json:"values"`
}

// Contains reports whether v is a valid vote on this scale.
func (s Scale) Contains(v string) bool {
	for _, sv := range s.Values {
		if sv == v {
			return true
		}
	}
	return false
}

// DefaultScaleID is the scale assigned to freshly created rooms.
const DefaultScaleID = "fibonacci"

var scales = map[string]Scale{
	"fibonacci": {
		ID:     "fibonacci",
		Values: []string{"0", "1", "2", "3", "5", "8", "13", "21", "34", "55", "89", "?", "☕"},
	},
	"tshirt": {
		ID:     "tshirt",
		Values: []string{"XS", "S", "M", "L", "XL", "XXL", "?", "☕"},
	},
	"powers": {
		ID:     "powers",
		Values: []string{"1", "2", "4", "8", "16", "32", "64", "?", "☕"},
	},
}

// ScaleByID looks up a scale by its id.
func ScaleByID(id string) (Scale, bool) {
	s, ok := scales[id]
	return s, ok
}
