package tle

import "time"

// TLEEntry is one satellite's two-line element set plus its catalog name.
type TLEEntry struct {
	NORADID int
	Name    string
	Epoch   time.Time
	Line1   string
	Line2   string
}
