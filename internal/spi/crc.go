package spi

import "github.com/sigurn/crc16"

// CRC-16/CMS as used by the FD controller's SPI CRC instructions:
// polynomial 0x8005, initial value 0xFFFF, MSB first, no final XOR.
var crcTable = crc16.MakeTable(crc16.CRC16_CMS)

// CRC16 computes the checksum over the given byte slices in order.
func CRC16(parts ...[]byte) uint16 {
	crc := crc16.Init(crcTable)
	for _, p := range parts {
		crc = crc16.Update(crc, p, crcTable)
	}
	return crc16.Complete(crc, crcTable)
}
