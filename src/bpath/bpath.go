// Package bpath canonicalizes slash-separated paths expressed as
// ustr.Ustr, resolving "." and ".." components the way the stdlib "path"
// package does for strings.
package bpath

import "ustr"

/// Canonicalize resolves "." and ".." components out of p, always
/// returning an absolute, slash-separated path with no trailing slash
/// (except the root itself).
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	comps := split(p)
	stack := make([]ustr.Ustr, 0, len(comps))
	for _, c := range comps {
		switch {
		case len(c) == 0, ustr.Ustr(c).Isdot():
			continue
		case ustr.Ustr(c).Isdotdot():
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, c)
		}
	}
	if len(stack) == 0 {
		return ustr.MkUstrRoot()
	}
	ret := ustr.Ustr{}
	for _, c := range stack {
		ret = append(ret, '/')
		ret = append(ret, c...)
	}
	return ret
}

func split(p ustr.Ustr) []ustr.Ustr {
	var parts []ustr.Ustr
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				parts = append(parts, p[start:i])
			}
			start = i + 1
		}
	}
	return parts
}
