// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ledlink

import "fmt"

// Role selects master or slave behavior. It is fixed for the lifetime of a
// Dispatcher.
type Role struct {
	master   bool
	deviceID uint8
}

// Master returns the controller role
func Master() Role {
	return Role{master: true}
}

// Slave returns the role of the remote node with the given device id
func Slave(deviceID uint8) Role {
	return Role{deviceID: deviceID}
}

// IsMaster returns true for the controller role
func (r Role) IsMaster() bool {
	return r.master
}

// DeviceID returns the slave's own device id (zero for the master)
func (r Role) DeviceID() uint8 {
	return r.deviceID
}

func (r Role) String() string {
	if r.master {
		return "master"
	}
	return fmt.Sprintf("slave %d", r.deviceID)
}
