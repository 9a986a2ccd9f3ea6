package serializer

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestResponseToBytesBodyIntact(t *testing.T) {
	response := `HTTP/1.1 200 OK
Server: Test

This is the body`

	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(response)), nil)
	if err != nil {
		panic(err)
	}

	_, err = ResponseToBytes(res)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if fmt.Sprintf("%s", body) != "This is the body" {
		t.Fatalf("Body: %s", body)
	}
}

func TestResponseSerialization(t *testing.T) {
	res := &http.Response{
		StatusCode: 201,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(`{"v":1}`)),
	}
	res.Header.Add("Test", "-ing")
	res.Header.Add("Test", "twice")
	res.Header.Set("Transfer-Encoding", "chunked")

	bts, err := ResponseToBytes(res)
	if err != nil {
		t.Fatalf("Error creating bytes: %+v", err)
	}
	res2, err := BytesToResponse(bts)
	if err != nil {
		t.Fatalf("Error creating response: %+v", err)
	}
	defer res2.Body.Close()

	if res2.StatusCode != 201 {
		t.Fatalf("Status code is %d", res2.StatusCode)
	}
	if vals := res2.Header.Values("Test"); len(vals) != 2 || vals[0] != "-ing" || vals[1] != "twice" {
		t.Fatalf("Test header wrong %+v", res2.Header)
	}
	if len(res2.TransferEncoding) != 0 {
		t.Fatalf("Transfer encoding was kept: %v", res2.TransferEncoding)
	}
	body, _ := io.ReadAll(res2.Body)
	if string(body) != `{"v":1}` {
		t.Fatalf("Body is %s", body)
	}
}

func TestEmptyBody(t *testing.T) {
	res := &http.Response{StatusCode: http.StatusNoContent}
	bts, err := ResponseToBytes(res)
	if err != nil {
		t.Fatal(err)
	}
	res2, err := BytesToResponse(bts)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(res2.Body)
	if res2.StatusCode != http.StatusNoContent || len(body) != 0 {
		t.Fatalf("Got %d with body %q", res2.StatusCode, body)
	}
}
