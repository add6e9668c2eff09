package zobject

import (
	"encoding/binary"
	"fmt"

	"github.com/davetcode/ztty/zcore"
)

// Property entries live after the object short name, in descending id
// order, each as a descriptor byte (size-1)<<5 | id followed by size data
// bytes. A zero descriptor terminates the list.
type Property struct {
	Id          uint8
	Length      uint8
	Data        []uint8
	Address     uint32
	DataAddress uint32
}

// GetPropertyLength works back from the first data byte to the descriptor.
// Address 0 is a special case required by some story files.
func GetPropertyLength(core *zcore.Core, address uint32) uint16 {
	if address == 0 {
		return 0
	}

	return uint16(core.ReadByte(address-1)>>5) + 1
}

func (o *Object) propertyListStart(core *zcore.Core) uint32 {
	nameLength := core.ReadByte(uint32(o.PropertyPointer))
	return uint32(o.PropertyPointer) + 1 + uint32(nameLength)*2
}

func getPropertyByAddress(core *zcore.Core, propertyAddress uint32) Property {
	descriptor := core.ReadByte(propertyAddress)
	length := (descriptor >> 5) + 1
	dataAddress := propertyAddress + 1

	return Property{
		Id:          descriptor & 0b1_1111,
		Length:      length,
		Data:        core.ReadSlice(dataAddress, dataAddress+uint32(length)),
		Address:     propertyAddress,
		DataAddress: dataAddress,
	}
}

// GetProperty returns the named property, or a synthetic entry carrying the
// default value from the object table header pairs when the object doesn't
// have it. A zero DataAddress marks the default case.
func (o *Object) GetProperty(propertyId uint8, core *zcore.Core) Property {
	currentPtr := o.propertyListStart(core)

	for core.ReadByte(currentPtr) != 0 {
		property := getPropertyByAddress(core, currentPtr)

		if property.Id == propertyId {
			return property
		}
		if property.Id < propertyId {
			break // Descending order, can't appear later
		}

		currentPtr = property.DataAddress + uint32(property.Length)
	}

	defaultAddress := uint32(core.ObjectTableBase) + 2*(uint32(propertyId)-1)
	return Property{
		Id:   propertyId,
		Data: core.ReadSlice(defaultAddress, defaultAddress+2),
	}
}

func (o *Object) SetProperty(propertyId uint8, value uint16, core *zcore.Core) {
	currentPtr := o.propertyListStart(core)

	for core.ReadByte(currentPtr) != 0 {
		property := getPropertyByAddress(core, currentPtr)

		if property.Id == propertyId {
			if !core.InDynamic(property.DataAddress + uint32(property.Length) - 1) {
				panic(fmt.Sprintf("Property write outside dynamic memory at 0x%x", property.DataAddress))
			}

			switch property.Length {
			case 1:
				core.WriteByte(property.DataAddress, uint8(value))
			case 2:
				binary.BigEndian.PutUint16(core.ReadSlice(property.DataAddress, property.DataAddress+2), value)
			default:
				panic(fmt.Sprintf("Invalid property length %d, can't set property %d", property.Length, propertyId))
			}

			return
		}

		currentPtr = property.DataAddress + uint32(property.Length)
	}

	panic(fmt.Sprintf("Invalid property (%d) requested for object (%d)", propertyId, o.Id))
}

// GetNextProperty with id 0 returns the first (highest numbered) property;
// with the last property it returns 0.
func (o *Object) GetNextProperty(propertyId uint8, core *zcore.Core) uint8 {
	if propertyId == 0 {
		currentPtr := o.propertyListStart(core)
		if core.ReadByte(currentPtr) == 0 {
			return 0
		}
		return getPropertyByAddress(core, currentPtr).Id
	}

	property := o.GetProperty(propertyId, core)
	if property.DataAddress == 0 {
		panic(fmt.Sprintf("Can't get next property from missing property (object %d, prop %d)", o.Id, propertyId))
	}

	nextPtr := property.DataAddress + uint32(property.Length)
	if core.ReadByte(nextPtr) == 0 {
		return 0
	}
	return getPropertyByAddress(core, nextPtr).Id
}
