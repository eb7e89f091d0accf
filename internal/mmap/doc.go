// Package mmap maps fragment files read-only into memory.
//
// The local blob store serves geometry fragments straight from a mapping,
// so decoding never copies a file through a read buffer:
//
//	m, err := mmap.Open("fragments/1:0:0")
//	if err != nil { ... }
//	defer m.Close()
//	m.Advise(mmap.AccessSequential)
//	payload := m.Bytes()
//
// Unix uses mmap(2) and madvise(2). Windows uses CreateFileMapping and
// MapViewOfFile; Advise is a no-op there.
//
// Close is idempotent. Slices returned by Bytes are invalid after Close.
package mmap
