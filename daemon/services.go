//
// Copyright 2015 Gregory Trubetskoy. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package daemon

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

type tvService interface {
	Start() error
	Stop()
	Wait(timeout time.Duration) bool
}

type serviceMap map[string]tvService
type serviceManager struct {
	services serviceMap
}

func newServiceManager(v *viewer, cfg *Config) *serviceManager {
	return &serviceManager{
		services: serviceMap{
			"www": &wwwServer{v: v, listenSpec: cfg.HttpListenSpec},
		},
	}
}

func processListenSpec(listenSpec string) string {
	if os.Getenv("TGVIEW_BIND") != "" {
		return strings.Replace(listenSpec, "0.0.0.0", os.Getenv("TGVIEW_BIND"), 1)
	}
	return listenSpec
}

func (r *serviceManager) run() error {
	for name, service := range r.services {
		if err := service.Start(); err != nil {
			r.closeListeners(0)
			return fmt.Errorf("%s: %v", name, err)
		}
	}
	return nil
}

// closeListeners stops all services and waits up to timeout for their
// open connections to finish.
func (r *serviceManager) closeListeners(timeout time.Duration) {
	for _, service := range r.services {
		service.Stop()
	}
	for name, service := range r.services {
		if !service.Wait(timeout) {
			log.Printf("closeListeners(): %s connections still open after %v", name, timeout)
		}
	}
}
