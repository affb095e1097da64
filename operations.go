// Copyright 2019 Aporeto Inc.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//     http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package armet

import "net/http"

// Operation represents an operation on a resource.
type Operation string

const (
	// OperationRead reads a list or a single item.
	OperationRead Operation = "read"

	// OperationCreate creates an item.
	OperationCreate Operation = "create"

	// OperationUpdate updates an item.
	OperationUpdate Operation = "update"

	// OperationDestroy destroys an item.
	OperationDestroy Operation = "destroy"
)

var allOperations = []Operation{
	OperationRead,
	OperationCreate,
	OperationUpdate,
	OperationDestroy,
}

// defaultAllowedMethods are the methods resources allow by default.
var defaultAllowedMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodOptions,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
}

// understoodMethods are the methods the API knows about. Any
// other method is not implemented.
var understoodMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodOptions,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodConnect,
	http.MethodTrace,
}

func isValidOperation(op Operation) bool {

	for _, o := range allOperations {
		if o == op {
			return true
		}
	}

	return false
}

func isUnderstoodMethod(method string) bool {
	return stringInSlice(method, understoodMethods)
}
