/*
Copyright (c) Facebook, Inc. and its affiliates.

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

package timestamp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTimestampString(t *testing.T) {
	require.Equal(t, "hardware", HW.String())
	require.Equal(t, "software", SW.String())
	require.Equal(t, "timestamp(42)", Timestamp(42).String())
}

func TestTimestampSet(t *testing.T) {
	var ts Timestamp
	require.NoError(t, ts.Set("HARDWARE"))
	require.Equal(t, HW, ts)
	require.NoError(t, ts.UnmarshalText([]byte("software")))
	require.Equal(t, SW, ts)
	require.Error(t, ts.Set("onestep"))

	b, err := HW.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "hardware", string(b))
	require.Equal(t, "timestamp", ts.Type())
}
