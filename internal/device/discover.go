package device

// Info is a block device found by List.
type Info struct {
	Identity
	Capacity  int64 `json:"capacity"`
	Removable bool  `json:"removable"`
	ReadOnly  bool  `json:"read_only"`
}
