package service

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/resourcemap/internal/graph"
)

func TestParseViewState_Defaults(t *testing.T) {
	v, err := ParseViewState(url.Values{})
	require.NoError(t, err)
	assert.Equal(t, DefaultViewState(), v)
	assert.Equal(t, graph.GroupByNamespace, v.GroupBy)
	assert.Empty(t, v.Encode())
	assert.Empty(t, v.Filters())
}

func TestParseViewState(t *testing.T) {
	q, err := url.ParseQuery("node=pod-1&group=node&expandAll=true&hasErrors=1&namespace=shop,default&namespace=shop&aspectRatio=1.5")
	require.NoError(t, err)

	v, err := ParseViewState(q)
	require.NoError(t, err)
	assert.Equal(t, ViewState{
		SelectedNodeID: "pod-1",
		GroupBy:        graph.GroupByNode,
		ExpandAll:      true,
		HasErrors:      true,
		Namespaces:     []string{"default", "shop"},
		AspectRatio:    1.5,
	}, v)
	assert.Len(t, v.Filters(), 2)
}

func TestParseViewState_RootAndNone(t *testing.T) {
	v, err := ParseViewState(url.Values{"node": {"root"}, "group": {"none"}})
	require.NoError(t, err)
	assert.Empty(t, v.SelectedNodeID)
	assert.Equal(t, graph.GroupByNone, v.GroupBy)
	assert.Equal(t, "group=none", v.Encode())
}

func TestParseViewState_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		query url.Values
	}{
		{"node", url.Values{"node": {"pod 1"}}},
		{"group", url.Values{"group": {"team"}}},
		{"expandAll", url.Values{"expandAll": {"maybe"}}},
		{"hasErrors", url.Values{"hasErrors": {"yes please"}}},
		{"namespace", url.Values{"namespace": {"Not_Valid"}}},
		{"aspectRatio zero", url.Values{"aspectRatio": {"0"}}},
		{"aspectRatio too wide", url.Values{"aspectRatio": {"42"}}},
		{"aspectRatio NaN", url.Values{"aspectRatio": {"NaN"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseViewState(tt.query)
			assert.ErrorIs(t, err, ErrInvalidView)
		})
	}
}

func TestViewState_EncodeRoundTrip(t *testing.T) {
	views := []ViewState{
		DefaultViewState(),
		{GroupBy: graph.GroupByNone, AspectRatio: DefaultAspectRatio},
		{SelectedNodeID: "group-dep-web", GroupBy: graph.GroupByInstance, ExpandAll: true, AspectRatio: 0.75},
		{GroupBy: graph.GroupByNamespace, HasErrors: true, Namespaces: []string{"a", "b"}, AspectRatio: DefaultAspectRatio},
	}
	for _, v := range views {
		q, err := url.ParseQuery(v.Encode())
		require.NoError(t, err)
		got, err := ParseViewState(q)
		require.NoError(t, err)
		assert.Equal(t, v, got, v.Encode())
	}
}

func TestViewState_EncodeIsCanonical(t *testing.T) {
	a := ViewState{GroupBy: graph.GroupByNamespace, Namespaces: []string{"b", "a"}, AspectRatio: DefaultAspectRatio}
	b := ViewState{GroupBy: graph.GroupByNamespace, Namespaces: []string{"a", "b"}, AspectRatio: DefaultAspectRatio}
	assert.Equal(t, a.Encode(), b.Encode())
	assert.Equal(t, "namespace=a%2Cb", a.Encode())
}
