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

// Package mtls authenticates and authorizes requests using the client
// certificates presented during the TLS handshake.
package mtls

import (
	"crypto/x509"
	"slices"

	"go.aporeto.io/armet"
)

type mtlsAuthorizer struct {
	mandatoryOrganizations       []string
	mandatoryOrganizationalUnits []string
	mandatoryCNs                 []string
	ignoredResources             []string
}

// NewMTLSAuthorizer returns a new Authorizer that ensures the client certificate contains at least
// one O and/or OUs and/or CNs present in the given list (pass nil to allow all).
// The Authorizer will not enforce this for the given ignoredResources.
func NewMTLSAuthorizer(o, ous, cns []string, ignoredResources ...string) armet.Authorizer {

	return &mtlsAuthorizer{
		mandatoryOrganizations:       o,
		mandatoryOrganizationalUnits: ous,
		mandatoryCNs:                 cns,
		ignoredResources:             ignoredResources,
	}
}

func (a *mtlsAuthorizer) IsAuthorized(ctx armet.Context) (armet.AuthAction, error) {

	if slices.Contains(a.ignoredResources, ctx.Resource()) {
		return armet.AuthActionContinue, nil
	}

	if err := verifyPeerCertificates(
		peerCertificates(ctx),
		a.mandatoryOrganizations,
		a.mandatoryOrganizationalUnits,
		a.mandatoryCNs,
	); err != nil {
		return armet.AuthActionKO, err
	}

	return armet.AuthActionContinue, nil
}

type mtlsAuthenticator struct{}

// NewMTLSAuthenticator returns a new RequestAuthenticator that accepts
// the requests presenting a client certificate and sets claims
// describing it. Other requests are left to the next authenticators.
func NewMTLSAuthenticator() armet.RequestAuthenticator {
	return mtlsAuthenticator{}
}

func (mtlsAuthenticator) AuthenticateRequest(ctx armet.Context) (armet.AuthAction, error) {

	clients := clientCertificates(peerCertificates(ctx))
	if len(clients) == 0 {
		return armet.AuthActionContinue, nil
	}

	ctx.SetClaims(certificateClaims(clients[0]))

	return armet.AuthActionOK, nil
}

func peerCertificates(ctx armet.Context) []*x509.Certificate {

	state := ctx.Request().TLSConnectionState
	if state == nil {
		return nil
	}

	return state.PeerCertificates
}
