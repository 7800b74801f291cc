//go:build !linux

package platform

func chipWritable(path string) bool { return false }
