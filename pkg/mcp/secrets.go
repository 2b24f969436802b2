// Copyright 2025 Tom Barlow
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

package mcp

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/zalando/go-keyring"
)

// keyringService names the OS credential-store service used for a
// keyring-scheme reference that carries no "<service>/" prefix, keeping such
// entries namespaced to this program rather than colliding with unrelated
// keychain items.
const keyringService = "stepwise"

// secretScheme identifies one of the extra env-reference schemes layered on
// top of the $NAME/${NAME} substitution in ResolveLaunchEnv.
type secretScheme int

const (
	schemeNone secretScheme = iota
	schemeKeyring
	schemeSSM
	schemeFile
)

func classifySecretRef(value string) (secretScheme, string) {
	switch {
	case strings.HasPrefix(value, "keyring:"):
		return schemeKeyring, strings.TrimPrefix(value, "keyring:")
	case strings.HasPrefix(value, "ssm:"):
		return schemeSSM, strings.TrimPrefix(value, "ssm:")
	case strings.HasPrefix(value, "file:"):
		return schemeFile, strings.TrimPrefix(value, "file:")
	default:
		return schemeNone, value
	}
}

// resolveSecretRef resolves a keyring:/ssm: reference. It reports ok=false
// (never an error) for "not found", matching ResolveLaunchEnv's contract
// that every unresolved reference degrades to an empty string plus a
// WARN log rather than a hard failure.
func resolveSecretRef(ctx context.Context, scheme secretScheme, ref string) (value string, ok bool) {
	switch scheme {
	case schemeKeyring:
		return resolveKeyringRef(ref)
	case schemeSSM:
		return resolveSSMRef(ctx, ref)
	case schemeFile:
		return resolveFileSecretRef(ref)
	default:
		return "", false
	}
}

// resolveKeyringRef resolves "keyring:<service>/<account>" from the OS
// credential store. When the reference carries no "/", keyringService is
// used as the service and the whole reference is the account name.
func resolveKeyringRef(ref string) (string, bool) {
	service, account := keyringService, ref
	if idx := strings.IndexByte(ref, '/'); idx >= 0 {
		service, account = ref[:idx], ref[idx+1:]
	}

	value, err := keyring.Get(service, account)
	if err != nil {
		return "", false
	}
	return value, true
}

// resolveSSMRef resolves "ssm:/path/to/parameter" from AWS Systems Manager
// Parameter Store, transparently decrypting SecureString parameters.
func resolveSSMRef(ctx context.Context, path string) (string, bool) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", false
	}

	client := ssm.NewFromConfig(cfg)
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(true),
	})
	if err != nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", false
	}
	return *out.Parameter.Value, true
}
