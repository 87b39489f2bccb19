package lib

import (
	"fmt"
	"log"
	"sync"

	rp "github.com/Clouded-Sabre/ringpool/lib"
)

var (
	emptySlice []byte
	Pool       *rp.RingPool
	poolOnce   sync.Once
	poolBufLen int
)

// InitPool creates the process-wide pool of datagram receive buffers.
// Only the first call has an effect.
func InitPool(size, bufferLength int, debug bool) {
	poolOnce.Do(func() {
		poolBufLen = bufferLength
		rp.Debug = debug
		Pool = rp.NewRingPool("RDT: ", size, NewDatagram, bufferLength)
		Pool.Debug = debug
	})
}

func setEmptySlice(length int) {
	emptySlice = make([]byte, length)
}

// Datagram is a pooled receive buffer.
type Datagram struct {
	buf    []byte
	length int
}

// NewDatagram allocates a buffer of the length given as the only parameter.
func NewDatagram(params ...interface{}) rp.DataInterface {
	if len(params) != 1 {
		log.Println("NewDatagram: Invalid number of calling parameters. Should be only one: bufferlength")
		return nil
	}

	bufferLength, ok := params[0].(int)
	if !ok {
		log.Println("NewDatagram: Invalid data type of bufferLength. Should be of type int")
		return nil
	}

	if len(emptySlice) < bufferLength {
		setEmptySlice(bufferLength)
	}

	return &Datagram{
		buf: make([]byte, bufferLength),
	}
}

// Reset clears the buffer before it goes back to the pool
func (d *Datagram) Reset() {
	copy(d.buf, emptySlice)
	d.length = 0
}

// PrintContent prints the content of the datagram
func (d *Datagram) PrintContent() {
	fmt.Println("Content:", string(d.buf[:d.length]))
}

func (d *Datagram) GetSlice() []byte {
	return d.buf[:d.length]
}

// readBuffer hands out a pooled buffer of at least size bytes. Buffers larger than
// the pool's are allocated directly and element is nil.
func readBuffer(size int) (element *rp.Element, buf *Datagram) {
	if Pool != nil && size <= poolBufLen {
		if element = Pool.GetElement(); element != nil {
			if d, ok := element.Data.(*Datagram); ok {
				return element, d
			}
			Pool.ReturnElement(element)
		}
	}
	return nil, &Datagram{buf: make([]byte, size)}
}

func releaseBuffer(element *rp.Element) {
	if element != nil {
		Pool.ReturnElement(element)
	}
}
