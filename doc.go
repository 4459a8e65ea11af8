// Package imgload loads images from URIs into display targets through a
// memory cache, a bounded journaled disk cache, and an HTTP downloader.
//
// Concurrent requests for one URI are single-flight: they serialise on a
// per-URI lock and share a single download. Requests whose target has been
// reused or collected cancel cooperatively at each pipeline checkpoint.
//
// # Quick start
//
//	loader, err := imgload.New(
//	    imgload.WithDiskCacheDir("/var/cache/thumbs", 100<<20, 0),
//	)
//	if err != nil {
//	    return err
//	}
//	defer loader.Close()
//
//	target := imgload.NewImageTarget(256, 256)
//	err = loader.Display("https://example.com/cat.png", target,
//	    imgload.WithScaleType(decode.ScaleSamplePowerOf2),
//	    imgload.WithListener(imgload.ListenerFuncs{
//	        Complete: func(uri string, t imgload.Target, img image.Image, from imgload.LoadedFrom) {
//	            // img is on screen
//	        },
//	    }),
//	)
//
// Synchronous use returns the image directly:
//
//	img, err := loader.LoadSync("https://example.com/cat.png", 256, 256)
//
// # Caching
//
// The disk layer is a crash-safe LRU cache with a write-ahead journal; see
// the cache/disk package. The memory layer holds decoded images; see
// memcache for the available eviction policies.
package imgload
