package pathguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yarrco/ewmill/opkind"
)

func TestNormalize_EmptyAndRoot(t *testing.T) {
	for _, in := range []string{"", "/"} {
		out, err := Normalize(in)
		require.NoError(t, err)
		assert.Equal(t, "/", out)
	}
}

func TestNormalize_DropsDotAndEmptySegments(t *testing.T) {
	out, err := Normalize("/a//./b/")
	require.NoError(t, err)
	assert.Equal(t, "/a/b", out)
}

func TestNormalize_RejectsDotDot(t *testing.T) {
	_, err := Normalize("/../etc")
	require.Error(t, err)
	var opErr opkind.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, opkind.BadPath, opErr.Kind())
}

func TestNormalize_RejectsControlByte(t *testing.T) {
	_, err := Normalize("/a\x01b")
	require.Error(t, err)
}

func TestNormalize_IsIdempotent(t *testing.T) {
	inputs := []string{"/a/b/c", "/", "weird/path/../still/rejected"}
	for _, in := range inputs {
		first, err1 := Normalize(in)
		if err1 != nil {
			continue
		}
		second, err2 := Normalize(first)
		require.NoError(t, err2)
		assert.Equal(t, first, second)
	}
}

func TestNormalize_PathTooLong(t *testing.T) {
	long := "/"
	for i := 0; i < 300; i++ {
		long += "a"
	}
	_, err := Normalize(long)
	require.Error(t, err)
	var opErr opkind.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, opkind.PathTooLong, opErr.Kind())
}

func TestSanitizeName_RejectsDotAndDotDot(t *testing.T) {
	_, err := SanitizeName(".")
	require.Error(t, err)
	_, err = SanitizeName("..")
	require.Error(t, err)
}

func TestSanitizeName_RejectsSlash(t *testing.T) {
	_, err := SanitizeName("a/b")
	require.Error(t, err)
}

func TestSanitizeName_AcceptsOrdinaryName(t *testing.T) {
	out, err := SanitizeName("hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", out)
}

func TestMountPath(t *testing.T) {
	assert.Equal(t, "/sdcard", MountPath("/sdcard", "/"))
	assert.Equal(t, "/sdcard/a/b", MountPath("/sdcard", "/a/b"))
}
