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

package mtls

import (
	"crypto/x509"
	"fmt"
	"net/http"
	"slices"

	"go.aporeto.io/armet"
)

var (
	errMissingCertificate  = armet.NewError("Forbidden", "This API requires mutual TLS authentication and you did not provide any certificate", http.StatusForbidden)
	errRejectedCertificate = armet.NewError("Forbidden", "Your certificate information has been rejected", http.StatusForbidden)
)

// clientCertificates returns the certificates of the chain that are
// meant to be used for client authentication.
func clientCertificates(certificates []*x509.Certificate) []*x509.Certificate {

	var out []*x509.Certificate

	for _, cert := range certificates {

		if cert.IsCA {
			continue
		}

		if !slices.Contains(cert.ExtKeyUsage, x509.ExtKeyUsageClientAuth) {
			continue
		}

		out = append(out, cert)
	}

	return out
}

// verifyPeerCertificates verifies every client certificate carries at
// least one of the given organizations, organizational units and
// common names. An empty list allows any value.
func verifyPeerCertificates(certificates []*x509.Certificate, o []string, ou []string, cn []string) error {

	if len(certificates) == 0 {
		return errMissingCertificate
	}

	clients := clientCertificates(certificates)
	if len(clients) == 0 {
		return errRejectedCertificate
	}

	for _, cert := range clients {

		if len(o) != 0 && !intersects(cert.Subject.Organization, o) {
			return errRejectedCertificate
		}

		if len(ou) != 0 && !intersects(cert.Subject.OrganizationalUnit, ou) {
			return errRejectedCertificate
		}

		if len(cn) != 0 && !slices.Contains(cn, cert.Subject.CommonName) {
			return errRejectedCertificate
		}
	}

	return nil
}

func intersects(values []string, allowed []string) bool {

	for _, v := range values {
		if slices.Contains(allowed, v) {
			return true
		}
	}

	return false
}

// certificateClaims returns the claims describing the given certificate.
func certificateClaims(cert *x509.Certificate) []string {

	claims := []string{
		fmt.Sprintf("commonName=%s", cert.Subject.CommonName),
		fmt.Sprintf("serialNumber=%s", cert.SerialNumber),
	}

	for _, o := range cert.Subject.Organization {
		claims = append(claims, fmt.Sprintf("organization=%s", o))
	}

	for _, ou := range cert.Subject.OrganizationalUnit {
		claims = append(claims, fmt.Sprintf("organizationalUnit=%s", ou))
	}

	return claims
}
