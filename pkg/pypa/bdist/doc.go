// Package bdist implements the PyPA Binary distribution format (AKA PEP 427 -- The Wheel Binary
// Package Format 1.0).
//
// https://www.python.org/dev/peps/pep-0427/
// https://packaging.python.org/specifications/binary-distribution-format/
//
// Other useful references:
//  - distutils/command/install.py
//  - site-packages/pip/_internal/operations/install/wheel.py
//  - site-packages/pip/_internal/utils/unpacking.py
//  - site-packages/pip/_internal/utils/wheel.py
package bdist
