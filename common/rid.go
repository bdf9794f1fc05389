package common

import "fmt"

// RID identifies a tuple's physical location: the page it lives on and its
// slot within that page. It is the unit the lock manager keys its wait
// queues on.
type RID struct {
	PageID  int32
	SlotNum uint32
}

func NewRID(pageID int32, slotNum uint32) RID {
	return RID{PageID: pageID, SlotNum: slotNum}
}

func (r RID) String() string {
	return fmt.Sprintf("%d:%d", r.PageID, r.SlotNum)
}
