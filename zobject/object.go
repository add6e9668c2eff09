package zobject

import (
	"encoding/binary"
	"fmt"

	"github.com/davetcode/ztty/zcore"
	"github.com/davetcode/ztty/zstring"
)

// Object is a decoded view of one 9 byte object record: 4 attribute bytes,
// parent/sibling/child byte links and the property table pointer. Ids run
// 1..255, id 0 is the null object.
type Object struct {
	BaseAddress     uint32
	Id              uint16
	Name            string
	Attributes      uint32
	Parent          uint16
	Sibling         uint16
	Child           uint16
	PropertyPointer uint16
}

func GetObject(objId uint16, core *zcore.Core) Object {
	if objId == 0 || objId > 255 {
		panic(fmt.Sprintf("Invalid object id %d", objId))
	}

	objectBase := uint32(core.ObjectTableBase) + 31*2 + (uint32(objId)-1)*9
	propertyPtr := core.ReadHalfWord(objectBase + 7)
	nameLength := core.ReadByte(uint32(propertyPtr))

	name := ""
	if nameLength > 0 {
		name, _ = zstring.Decode(core, uint32(propertyPtr)+1)
	}

	return Object{
		Id:              objId,
		Name:            name,
		Attributes:      binary.BigEndian.Uint32(core.ReadSlice(objectBase, objectBase+4)),
		Parent:          uint16(core.ReadByte(objectBase + 4)),
		Sibling:         uint16(core.ReadByte(objectBase + 5)),
		Child:           uint16(core.ReadByte(objectBase + 6)),
		PropertyPointer: propertyPtr,
		BaseAddress:     objectBase,
	}
}

// Attributes number 0-31 left to right, attribute 0 being the MSB of the
// first attribute byte.
func attributeMask(attribute uint16) uint32 {
	if attribute > 31 {
		panic(fmt.Sprintf("Invalid attribute number %d", attribute))
	}
	return uint32(1) << (31 - attribute)
}

func (o *Object) TestAttribute(attribute uint16) bool {
	mask := attributeMask(attribute)

	return o.Attributes&mask == mask
}

func (o *Object) SetAttribute(attribute uint16, core *zcore.Core) {
	o.Attributes |= attributeMask(attribute)
	o.writeAttributes(core)
}

func (o *Object) ClearAttribute(attribute uint16, core *zcore.Core) {
	o.Attributes &= ^attributeMask(attribute)
	o.writeAttributes(core)
}

func (o *Object) writeAttributes(core *zcore.Core) {
	if !core.InDynamic(o.BaseAddress + 3) {
		panic(fmt.Sprintf("Attribute write outside dynamic memory at 0x%x", o.BaseAddress))
	}

	binary.BigEndian.PutUint32(core.ReadSlice(o.BaseAddress, o.BaseAddress+4), o.Attributes)
}

// Object ids fit a byte on v3 so the narrowing in the link setters can't
// lose information.
func (o *Object) SetParent(parent uint16, core *zcore.Core) {
	o.writeLink(o.BaseAddress+4, parent, core)
	o.Parent = parent
}

func (o *Object) SetSibling(sibling uint16, core *zcore.Core) {
	o.writeLink(o.BaseAddress+5, sibling, core)
	o.Sibling = sibling
}

func (o *Object) SetChild(child uint16, core *zcore.Core) {
	o.writeLink(o.BaseAddress+6, child, core)
	o.Child = child
}

func (o *Object) writeLink(address uint32, value uint16, core *zcore.Core) {
	if !core.InDynamic(address) {
		panic(fmt.Sprintf("Object link write outside dynamic memory at 0x%x", address))
	}

	core.WriteByte(address, uint8(value))
}
