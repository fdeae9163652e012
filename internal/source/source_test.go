package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rzpsarthak13/featuresync/internal/core"
	"github.com/rzpsarthak13/featuresync/internal/registry"
)

const parcelsDoc = `{
  "type": "FeatureCollection",
  "crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:EPSG::2193"}},
  "features": [
    {"type": "Feature", "id": "x772.1",
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[10,0],[10,10],[0,0]]]},
     "properties": {"id": 1, "title_sufi": 1234567890123456789, "area": 12.5, "name": "Lot 1", "note": null}},
    {"type": "Feature", "id": "x772.2",
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[0,0],[5,0],[5,5],[0,0]]]]},
     "properties": {"id": 2, "title_sufi": 42, "area": 3, "name": "Lot 2", "note": "x", "extra": true}}
  ]
}`

func newSource(t *testing.T) *WFSSource {
	return NewWFSSource(registry.InternalSourceConfig{URL: "http://unused/"}, zaptest.NewLogger(t))
}

func TestURIBuilder(t *testing.T) {
	_, err := NewURIBuilder(registry.InternalSourceConfig{URL: "ftp://data"})
	assert.Equal(t, core.ErrCodeMalformedConnection, core.CodeOf(err))

	b, err := NewURIBuilder(registry.InternalSourceConfig{
		URL: "https://data.example.org/services;key=", Key: "abc", Version: "1.0.0", Format: "json",
	})
	require.NoError(t, err)

	assert.Equal(t,
		"https://data.example.org/services;key=abc/wfs?service=WFS&version=1.0.0&request=GetFeature&typeName=v%3Ax772&outputFormat=json",
		b.SourceURI("v:x772", Query{}))

	assert.Equal(t,
		"https://data.example.org/services;key=abc/v/x772-changeset/wfs?service=WFS&version=1.0.0&request=GetFeature"+
			"&typeName=v%3Ax772-changeset&viewparams=from%3A2020-01-01%3Bto%3A2020-02-01&outputFormat=json",
		b.ChangesetURI("v:x772", "2020-01-01", "2020-02-01", Query{}))

	paged := b.SourceURI("v:x772", Query{CQL: "area>5", PrimaryKey: "id", PartitionStart: "100", PartitionSize: 50})
	assert.Contains(t, paged, "&sortBy=id&maxFeatures=50&cql_filter=id%3E100+AND+area%3E5")

	assert.Equal(t, "v:x772", LayerFromURI(paged))
	assert.Equal(t, "v:x772", LayerFromURI(b.ChangesetURI("v:x772", "a", "b", Query{})))
}

func TestSplitLayerName(t *testing.T) {
	assert.Equal(t, "/v/x123", SplitLayerName("v:x123"))
	assert.Equal(t, "/plain", SplitLayerName("plain"))
}

func TestWithOutputFormat(t *testing.T) {
	out, err := WithOutputFormat("http://h/wfs?typeName=v%3Ax1&outputFormat=json", CSVFormat)
	require.NoError(t, err)
	assert.Contains(t, out, "outputFormat=csv")
	assert.NotContains(t, out, "json")
}

func TestDecodeCollection(t *testing.T) {
	layer, err := decodeCollection([]byte(parcelsDoc), "v:x772", zaptest.NewLogger(t))
	require.NoError(t, err)

	desc := layer.Descriptor()
	assert.Equal(t, core.SpatialReference{EPSG: 2193}, desc.SRS)
	assert.Equal(t, core.GeometryMultiPolygon, desc.GeometryType)
	assert.Equal(t, []core.FieldDefinition{
		{Name: "id", Type: core.FieldInteger},
		{Name: "title_sufi", Type: core.FieldInteger64},
		{Name: "area", Type: core.FieldReal},
		{Name: "name", Type: core.FieldString},
		{Name: "note", Type: core.FieldString},
	}, desc.Fields)

	first := layer.NextFeature()
	require.NotNil(t, first)
	assert.Equal(t, core.GeometryPolygon, core.GeometryTypeOf(first.Geometry))
	assert.Equal(t, "1", first.GetString("id"))
	assert.Equal(t, "Lot 1", first.GetString("name"))
	v, _ := first.Get("note")
	assert.Nil(t, v)

	second := layer.NextFeature()
	require.NotNil(t, second)
	_, ok := second.Get("extra")
	assert.False(t, ok)
	assert.Equal(t, "3", second.GetString("area"))

	assert.Nil(t, layer.NextFeature())
	layer.ResetReading()
	assert.Same(t, first, layer.NextFeature())
}

func TestDecodeCollection_KeepsWideIntegers(t *testing.T) {
	doc := `{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":null,"properties":{"id":9007199254740993,"parcel_id":9007199254740995,"area":2}},
		{"type":"Feature","geometry":null,"properties":{"id":7,"parcel_id":1,"area":2.5}}]}`
	layer, err := decodeCollection([]byte(doc), "v:x1", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, []core.FieldDefinition{
		{Name: "id", Type: core.FieldInteger64},
		{Name: "parcel_id", Type: core.FieldInteger64},
		{Name: "area", Type: core.FieldReal},
	}, layer.Descriptor().Fields)

	f := layer.NextFeature()
	require.NotNil(t, f)
	id, _ := f.Get("id")
	assert.Equal(t, int64(9007199254740993), id)
	assert.Equal(t, "9007199254740993", f.GetString("id"))
	assert.Equal(t, "9007199254740995", f.GetString("parcel_id"))
	area, _ := f.Get("area")
	assert.Equal(t, float64(2), area)

	f = layer.NextFeature()
	require.NotNil(t, f)
	id, _ = f.Get("id")
	assert.Equal(t, int64(7), id)
}

func TestDecodeCollection_Aspatial(t *testing.T) {
	doc := `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":null,"properties":{"a":"b"}}]}`
	layer, err := decodeCollection([]byte(doc), "v:x1", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, core.GeometryNone, layer.Descriptor().GeometryType)
	assert.Equal(t, core.SpatialReference{EPSG: 4326}, layer.Descriptor().SRS)
}

func TestWFSSource_Read(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "v:x772", r.URL.Query().Get("typeName"))
		w.Write([]byte(parcelsDoc))
	}))
	defer srv.Close()

	src := newSource(t)
	uri := srv.URL + "/wfs?typeName=v%3Ax772"
	require.NoError(t, src.Read(context.Background(), uri, false))
	assert.Equal(t, uri, src.URI())
	require.Len(t, src.Layers(), 1)

	f := src.Layers()[0].NextFeature()
	require.NotNil(t, f)
	assert.Equal(t, core.GeometryPolygon, core.GeometryTypeOf(f.Geometry))

	assert.False(t, src.Partitioned())
	src.SetPartitioned(true)
	assert.True(t, src.Partitioned())
}

func TestWFSSource_ErrorMessages(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		code    core.SyncErrorCode
		message string
	}{
		{
			name:    "gateway timeout",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusGatewayTimeout) },
			code:    core.ErrCodeTransientIO,
			message: "HTTP error code : 504",
		},
		{
			name:    "bad request",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadRequest) },
			code:    core.ErrCodeDatasourceInit,
			message: "HTTP error code : 400",
		},
		{
			name:    "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {},
			code:    core.ErrCodeTransientIO,
			message: "Empty content returned by server",
		},
		{
			name: "exception report",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`<ows:ExceptionReport/>`))
			},
			code:    core.ErrCodeDatasourceInit,
			message: "exception report",
		},
		{
			name:    "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"type":`)) },
			code:    core.ErrCodeDatasourceInit,
			message: "cannot parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			src := newSource(t)
			err := src.Read(context.Background(), srv.URL+"/wfs?typeName=v%3Ax1", false)
			require.Error(t, err)
			assert.Equal(t, tt.code, core.CodeOf(err))
			assert.Contains(t, err.Error(), tt.message)
			assert.Empty(t, src.Layers())
		})
	}
}

func TestWFSSource_FetchColumn(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "csv", r.URL.Query().Get("outputFormat"))
		w.Write([]byte("FID,id,title_sufi,name\nx772.1,1,1234567890123456789,Lot 1\nx772.2,2,42,\"Lot, 2\"\n"))
	}))
	defer srv.Close()

	src := newSource(t)
	values, err := src.FetchColumn(context.Background(), srv.URL+"/wfs?typeName=v%3Ax772&outputFormat=json", "id", "title_sufi")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"1": "1234567890123456789", "2": "42"}, values)
	assert.Equal(t, int32(1), calls.Load())

	_, err = src.FetchColumn(context.Background(), srv.URL+"/wfs?typeName=v%3Ax772", "id", "missing")
	assert.Error(t, err)
}
