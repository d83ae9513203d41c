/*
Copyright (c) Seekmesh Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package peer defines the addressing primitives shared by every other
// overlay package: a peer is addressed by (IP, port); a username is carried
// only as far as the registrar.
package peer

import "fmt"

// Addr identifies a peer on the overlay by (IP, port). Two Addrs are equal
// iff both fields match; username is intentionally not part of Addr since
// it plays no role in overlay addressing.
type Addr struct {
	IP   string
	Port int
}

// String renders the address as "ip:port", used for logging and as the
// component form of query identifiers.
func (a Addr) String() string {
	return fmt.Sprintf("%s:%d", a.IP, a.Port)
}
