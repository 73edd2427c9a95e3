package sysmem

import (
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
)

func try(total, unmapLen int) {
	b, err := unix.Mmap(-1, 0, total, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		fmt.Println("mmap err", total, err)
		return
	}
	err2 := unix.Munmap(b[:unmapLen])
	fmt.Printf("total=%d unmapLen=%d err=%v\n", total, unmapLen, err2)
	if err2 != nil {
		unix.Munmap(b)
	}
}

func TestZZRepro(t *testing.T) {
	try(8192, 4096)
	try(12288, 4096)
	try(4321280, 4096)
	try(4321280, 81920)
	try(1048576, 4096)
	try(2097152, 4096)
	try(1048576+4096, 4096)
}
