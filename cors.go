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

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSOriginMirror instructs to mirror any incoming origin.
// This should not be used in production.
const CORSOriginMirror = "_mirror_"

// CORSPolicy allows to configure
// CORS Access Control header of a response.
type CORSPolicy struct {
	additionalOrigins map[string]struct{}
	AllowOrigin       string
	AllowHeaders      []string
	AllowMethods      []string
	ExposeHeaders     []string
	MaxAge            int
	AllowCredentials  bool
}

type corsPolicyController struct {
	policy *CORSPolicy
}

// NewDefaultCORSController returns a CORSPolicyController that always returns a CORSPolicy
// with sensible defaults.
func NewDefaultCORSController(origin string, additionalOrigins []string) CORSPolicyController {

	additionalOriginsMap := make(map[string]struct{}, len(additionalOrigins))
	for _, o := range additionalOrigins {
		additionalOriginsMap[o] = struct{}{}
	}

	return &corsPolicyController{
		policy: &CORSPolicy{
			AllowOrigin:       origin,
			additionalOrigins: additionalOriginsMap,
			AllowCredentials:  true,
			MaxAge:            1500,
			AllowHeaders: []string{
				"Authorization",
				"Accept",
				"Content-Type",
				"Cache-Control",
				"Cookie",
				"If-None-Match",
				"X-Requested-With",
				"X-HTTP-Method-Override",
				"Accept-Encoding",
			},
			AllowMethods: append([]string{}, defaultAllowedMethods...),
			ExposeHeaders: []string{
				"X-Requested-With",
				"X-Request-Id",
				"X-Count-Total",
				"X-Messages",
				"Link",
				"Location",
				"ETag",
				"Content-MD5",
			},
		},
	}
}

func (c *corsPolicyController) PolicyForRequest(*http.Request) *CORSPolicy {
	return c.policy
}

// Inject injects the CORS header on the given http.Header. It will use
// the given request origin to determine the allow origin policy and
// preflight to determine if it should inject pre-flight OPTIONS headers.
// If the given http.Header is nil, this function is a no op.
func (a *CORSPolicy) Inject(h http.Header, origin string, preflight bool) {

	if h == nil {
		return
	}

	corsOrigin := a.AllowOrigin

	switch {
	case a.AllowOrigin == "*":
		corsOrigin = "*"

	case a.AllowOrigin == CORSOriginMirror && origin != "":
		corsOrigin = origin

	case a.AllowOrigin == CORSOriginMirror && origin == "":
		corsOrigin = ""

	case func() bool { _, ok := a.additionalOrigins[origin]; return ok }():
		corsOrigin = origin
	}

	if preflight {
		h.Set("Access-Control-Allow-Headers", strings.Join(a.AllowHeaders, ", "))
		h.Set("Access-Control-Allow-Methods", strings.Join(a.AllowMethods, ", "))
		h.Set("Access-Control-Max-Age", strconv.Itoa(a.MaxAge))
	}

	if corsOrigin != "" {
		h.Set("Access-Control-Allow-Origin", corsOrigin)
	}

	if len(a.ExposeHeaders) > 0 {
		h.Set("Access-Control-Expose-Headers", strings.Join(a.ExposeHeaders, ", "))
	}

	if a.AllowCredentials && corsOrigin != "*" && corsOrigin != "" {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
}
